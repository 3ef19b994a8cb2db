package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/purchase-lifecycle/internal/api/rest/middleware"
	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/internal/service"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

type stubService struct {
	refreshErr error
	launchErr  error
	ackErr     error

	launched provider.FlowParams
	host     provider.Host
	acked    string
}

func (s *stubService) Purchases() service.PurchasesSnapshot {
	return service.PurchasesSnapshot{
		Subscriptions:   []domain.Purchase{{Products: []string{domain.BasicProduct}, PurchaseToken: "sub-1"}},
		OneTimeProducts: []domain.Purchase{},
		ConnectionState: "READY",
	}
}

func (s *stubService) Catalog() service.CatalogSnapshot {
	return service.CatalogSnapshot{BasicSubscription: &domain.ProductDetails{ProductID: domain.BasicProduct}}
}

func (s *stubService) Entitlements(context.Context) (service.Entitlements, error) {
	return service.Entitlements{BasicContent: true}, nil
}

func (s *stubService) Subscriptions(context.Context) ([]domain.SubscriptionStatus, error) {
	return []domain.SubscriptionStatus{{Product: domain.BasicProduct, PurchaseToken: "sub-1"}}, nil
}

func (s *stubService) OneTimeProducts(context.Context) ([]domain.OneTimeProductStatus, error) {
	return nil, nil
}

func (s *stubService) Refresh(context.Context) error { return s.refreshErr }

func (s *stubService) Launch(_ context.Context, host provider.Host, params provider.FlowParams) error {
	s.host = host
	s.launched = params
	return s.launchErr
}

func (s *stubService) Acknowledge(_ context.Context, token string) error {
	s.acked = token
	return s.ackErr
}

type stubNotifications struct {
	payload string
	err     error
}

func (n *stubNotifications) HandleNotification(_ context.Context, payload []byte, _ http.Header) error {
	n.payload = string(payload)
	return n.err
}

func newTestRouter(svc *stubService, notifications provider.NotificationHandler, validator middleware.TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(logger.NewNop(), RouterDeps{
		Purchases:     svc,
		Notifications: notifications,
		BillingState:  func() string { return "READY" },
		Registry:      prometheus.NewRegistry(),
		Validator:     validator,
	})
}

func serve(r http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := newTestRouter(&stubService{}, nil, nil)

	w := serve(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"billing":"READY"`)

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ReadEndpoints(t *testing.T) {
	r := newTestRouter(&stubService{}, nil, nil)

	w := serve(r, http.MethodGet, "/api/v1/purchases", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"purchase_token":"sub-1"`)
	assert.Contains(t, w.Body.String(), `"one_time_products":[]`)

	w = serve(r, http.MethodGet, "/api/v1/catalog", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"premium_subscription":null`)

	w = serve(r, http.MethodGet, "/api/v1/entitlements", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"basic_content":true`)
}

func TestRouter_Refresh(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc, nil, nil)
	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/api/v1/purchases/refresh", "", nil).Code)

	svc.refreshErr = domain.ErrNotReady
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodPost, "/api/v1/purchases/refresh", "", nil).Code)
}

func TestRouter_Launch(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc, nil, nil)

	w := serve(r, http.MethodPost, "/api/v1/purchases/launch", `{"product_id":"basic_subscription","plan_tag":"basicmonthly_1"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, domain.BasicProduct, svc.launched.ProductID)
	assert.Equal(t, domain.BasicMonthlyPlan, svc.launched.PlanTag)

	w = serve(r, http.MethodPost, "/api/v1/purchases/launch", `{}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	svc.launchErr = fmt.Errorf("%w: ITEM_UNAVAILABLE", service.ErrLaunchFailed)
	w = serve(r, http.MethodPost, "/api/v1/purchases/launch", `{"product_id":"basic_subscription"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRouter_Acknowledge(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc, nil, nil)

	w := serve(r, http.MethodPost, "/api/v1/purchases/tok-1/acknowledge", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok-1", svc.acked)

	svc.ackErr = fmt.Errorf("acknowledge: %w", domain.ErrAcknowledgementFailed)
	w = serve(r, http.MethodPost, "/api/v1/purchases/tok-1/acknowledge", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRouter_Webhook(t *testing.T) {
	r := newTestRouter(&stubService{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/webhooks/billing", `{}`, nil).Code)

	n := &stubNotifications{}
	r = newTestRouter(&stubService{}, n, nil)
	w := serve(r, http.MethodPost, "/webhooks/billing", `{"code":0}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"code":0}`, n.payload)

	n.err = fmt.Errorf("%w: bad signature", domain.ErrUnauthenticated)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/webhooks/billing", `{}`, nil).Code)

	n.err = fmt.Errorf("%w: bad payload", domain.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/webhooks/billing", `{}`, nil).Code)
}

func TestRouter_AuthProtectsAPI(t *testing.T) {
	secret := []byte("secret")
	svc := &stubService{}
	r := newTestRouter(svc, &stubNotifications{}, &middleware.DefaultTokenValidator{Secret: secret})

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/purchases", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/webhooks/billing", `{}`, nil).Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.TokenClaims{
		UserEmail: "user@example.com",
		Scope:     billingScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	w := serve(r, http.MethodPost, "/api/v1/purchases/launch", `{"product_id":"premium_subscription"}`, header)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "acct-7", svc.host.AccountID)
	assert.Equal(t, "user@example.com", svc.host.Email)
}
