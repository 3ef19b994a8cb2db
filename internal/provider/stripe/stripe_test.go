package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

const (
	testCustomer = "cus_test"
	testSecret   = "whsec_test"
)

type object = map[string]interface{}

type stripeServer struct {
	mu       sync.Mutex
	subs     []object
	intents  []object
	acked    []string
	created  []string
	lastForm map[string]string
}

func list(data []object) object {
	return object{"object": "list", "data": data, "has_more": false, "url": "/v1/list"}
}

func (s *stripeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = r.ParseForm()

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch {
	case r.Method == http.MethodGet && path == "customers/"+testCustomer:
		respond(w, object{"id": testCustomer, "object": "customer"})
	case r.Method == http.MethodGet && path == "products/"+domain.BasicProduct:
		respond(w, object{"id": domain.BasicProduct, "object": "product", "name": "Basic", "description": "Basic plan"})
	case r.Method == http.MethodGet && path == "prices":
		respond(w, list([]object{
			{"id": "price_monthly", "object": "price", "lookup_key": domain.BasicMonthlyPlan,
				"unit_amount": 499, "currency": "usd", "metadata": object{"offer_tags": domain.BasicPrepaidPlanTag}},
		}))
	case r.Method == http.MethodGet && path == "subscriptions":
		respond(w, list(s.subs))
	case r.Method == http.MethodGet && path == "payment_intents":
		respond(w, list(s.intents))
	case r.Method == http.MethodPost && (path == "subscriptions" || path == "payment_intents"):
		s.created = append(s.created, path)
		s.lastForm = flatten(r)
		respond(w, object{"id": "new_1", "status": "incomplete"})
	case r.Method == http.MethodPost && strings.HasPrefix(path, "subscriptions/"),
		r.Method == http.MethodPost && strings.HasPrefix(path, "payment_intents/"):
		id := path[strings.LastIndex(path, "/")+1:]
		if r.PostForm.Get("metadata[acknowledged]") == "true" {
			s.acked = append(s.acked, id)
		}
		respond(w, object{"id": id})
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(object{"error": object{
			"type": "invalid_request_error", "code": "resource_missing", "message": "No such object",
		}})
	}
}

func flatten(r *http.Request) map[string]string {
	out := make(map[string]string)
	for k, v := range r.PostForm {
		out[k] = v[0]
	}
	return out
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type listener struct {
	mu      sync.Mutex
	setup   chan provider.Result
	updates [][]domain.Purchase
}

func newListener() *listener { return &listener{setup: make(chan provider.Result, 1)} }

func (l *listener) OnBillingSetupFinished(result provider.Result) { l.setup <- result }
func (l *listener) OnBillingServiceDisconnected()                 {}

func (l *listener) OnPurchasesUpdated(_ provider.Result, purchases []domain.Purchase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, purchases)
}

func (l *listener) received() [][]domain.Purchase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updates
}

func newTestProvider(t *testing.T, srv *httptest.Server, customerID string) *Provider {
	t.Helper()
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	p, err := New(Config{
		APIKey:        "sk_test_123",
		WebhookSecret: testSecret,
		CustomerID:    customerID,
		Backends:      &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	}, domain.DefaultCatalog(), logger.NewNop())
	require.NoError(t, err)
	return p
}

func setup(t *testing.T, c provider.Client, l *listener) provider.Result {
	t.Helper()
	c.StartConnection(l)
	select {
	case res := <-l.setup:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("setup did not finish")
		return provider.Result{}
	}
}

func connect(t *testing.T, p *Provider, l *listener) *Client {
	t.Helper()
	c := p.NewClient(l).(*Client)
	res := setup(t, c, l)
	require.True(t, res.Ok(), res.DebugMessage)
	t.Cleanup(c.EndConnection)
	return c
}

func subscriptionObject(id, status, product string, acknowledged bool) object {
	meta := object{}
	if acknowledged {
		meta[metadataAcknowledgedKey] = "true"
	}
	return object{
		"id":       id,
		"object":   "subscription",
		"status":   status,
		"customer": testCustomer,
		"created":  1700000000,
		"metadata": meta,
		"items": object{"object": "list", "data": []object{
			{"id": "si_1", "price": object{"id": "price_monthly", "product": product}},
		}},
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, domain.DefaultCatalog(), logger.NewNop())
	assert.Error(t, err)
}

func TestClient_SetupFailsForUnknownCustomer(t *testing.T) {
	srv := httptest.NewServer(&stripeServer{})
	defer srv.Close()

	p := newTestProvider(t, srv, "cus_missing")
	l := newListener()
	c := p.NewClient(l)
	res := setup(t, c, l)

	assert.Equal(t, provider.DeveloperError, res.Code)
	assert.False(t, c.IsReady())
}

func TestClient_QueryPurchases(t *testing.T) {
	api := &stripeServer{
		subs: []object{
			subscriptionObject("sub_active", "active", domain.BasicProduct, true),
			subscriptionObject("sub_canceled", "canceled", domain.PremiumProduct, false),
		},
		intents: []object{
			{"id": "pi_paid", "object": "payment_intent", "status": "succeeded",
				"metadata": object{metadataProductIDKey: domain.OneTimeProduct}},
			{"id": "pi_other", "object": "payment_intent", "status": "succeeded", "metadata": object{}},
		},
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := connect(t, newTestProvider(t, srv, testCustomer), newListener())

	res, subs := c.QueryPurchases(context.Background(), domain.ProductTypeSubscription)
	require.True(t, res.Ok(), res.DebugMessage)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub_active", subs[0].PurchaseToken)
	assert.True(t, subs[0].Acknowledged)
	assert.Equal(t, []string{domain.BasicProduct}, subs[0].Products)

	res, once := c.QueryPurchases(context.Background(), domain.ProductTypeOneTime)
	require.True(t, res.Ok(), res.DebugMessage)
	require.Len(t, once, 1)
	assert.Equal(t, "pi_paid", once[0].PurchaseToken)
	assert.Equal(t, domain.PurchaseStatePurchased, once[0].State)
}

func TestClient_QueryProductDetails(t *testing.T) {
	srv := httptest.NewServer(&stripeServer{})
	defer srv.Close()

	c := connect(t, newTestProvider(t, srv, testCustomer), newListener())

	res, details := c.QueryProductDetails(context.Background(), provider.QueryProductDetailsParams{
		ProductIDs:  []string{domain.BasicProduct, domain.PremiumProduct},
		ProductType: domain.ProductTypeSubscription,
	})
	require.True(t, res.Ok(), res.DebugMessage)
	require.Len(t, details, 1)
	assert.Equal(t, "Basic", details[0].Title)

	plan, ok := details[0].PlanWithTag(domain.BasicPrepaidPlanTag)
	require.True(t, ok)
	assert.Equal(t, domain.BasicMonthlyPlan, plan.BasePlanID)
	assert.Equal(t, "price_monthly", plan.OfferToken)
}

func TestClient_AcknowledgePurchase(t *testing.T) {
	api := &stripeServer{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := connect(t, newTestProvider(t, srv, testCustomer), newListener())

	assert.True(t, c.AcknowledgePurchase(context.Background(), "sub_1").Ok())
	assert.True(t, c.AcknowledgePurchase(context.Background(), "pi_1").Ok())
	assert.Equal(t, provider.ItemNotOwned, c.AcknowledgePurchase(context.Background(), "bogus").Code)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"sub_1", "pi_1"}, api.acked)
}

func TestClient_LaunchBillingFlow(t *testing.T) {
	api := &stripeServer{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	c := connect(t, newTestProvider(t, srv, testCustomer), newListener())

	res := c.LaunchBillingFlow(context.Background(), provider.Host{AccountID: "acct-1"}, provider.FlowParams{
		ProductID: domain.BasicProduct,
		PlanTag:   domain.BasicMonthlyPlan,
	})
	require.True(t, res.Ok(), res.DebugMessage)

	api.mu.Lock()
	assert.Equal(t, []string{"subscriptions"}, api.created)
	assert.Equal(t, "price_monthly", api.lastForm["items[0][price]"])
	assert.Equal(t, testCustomer, api.lastForm["customer"])
	assert.Equal(t, "acct-1", api.lastForm["metadata[account_id]"])
	api.mu.Unlock()

	res = c.LaunchBillingFlow(context.Background(), provider.Host{}, provider.FlowParams{ProductID: "unknown"})
	assert.Equal(t, provider.ItemUnavailable, res.Code)

	res = c.LaunchBillingFlow(context.Background(), provider.Host{}, provider.FlowParams{
		ProductID: domain.BasicProduct,
		PlanTag:   "no-such-plan",
	})
	assert.Equal(t, provider.ItemUnavailable, res.Code)
}

func TestClient_NotReadyAfterEnd(t *testing.T) {
	srv := httptest.NewServer(&stripeServer{})
	defer srv.Close()

	c := connect(t, newTestProvider(t, srv, testCustomer), newListener())
	c.EndConnection()

	res, _ := c.QueryPurchases(context.Background(), domain.ProductTypeSubscription)
	assert.Equal(t, provider.ServiceDisconnected, res.Code)
}

func signedHeader(t *testing.T, payload []byte, secret string) http.Header {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	h := http.Header{}
	h.Set(signatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func eventPayload(t *testing.T, eventType string, obj object) []byte {
	t.Helper()
	body, err := json.Marshal(object{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        object{"object": obj},
	})
	require.NoError(t, err)
	return body
}

func TestHandleNotification_DispatchesPurchase(t *testing.T) {
	srv := httptest.NewServer(&stripeServer{})
	defer srv.Close()

	p := newTestProvider(t, srv, testCustomer)
	l := newListener()
	connect(t, p, l)

	payload := eventPayload(t, "customer.subscription.created",
		subscriptionObject("sub_new", "active", domain.PremiumProduct, false))
	require.NoError(t, p.HandleNotification(context.Background(), payload, signedHeader(t, payload, testSecret)))

	updates := l.received()
	require.Len(t, updates, 1)
	require.Len(t, updates[0], 1)
	assert.Equal(t, "sub_new", updates[0][0].PurchaseToken)
	assert.False(t, updates[0][0].Acknowledged)

	ignored := eventPayload(t, "customer.created", object{"id": testCustomer})
	require.NoError(t, p.HandleNotification(context.Background(), ignored, signedHeader(t, ignored, testSecret)))
	assert.Len(t, l.received(), 1)
}

func TestHandleNotification_RejectsBadSignature(t *testing.T) {
	srv := httptest.NewServer(&stripeServer{})
	defer srv.Close()
	p := newTestProvider(t, srv, testCustomer)

	payload := eventPayload(t, "customer.subscription.created",
		subscriptionObject("sub_new", "active", domain.PremiumProduct, false))

	err := p.HandleNotification(context.Background(), payload, http.Header{})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	err = p.HandleNotification(context.Background(), payload, signedHeader(t, payload, "whsec_wrong"))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestConvert(t *testing.T) {
	pending := &stripe.PaymentIntent{
		ID:       "pi_1",
		Status:   stripe.PaymentIntentStatusProcessing,
		Metadata: map[string]string{metadataProductIDKey: domain.OneTimeProduct},
	}
	p, owned := paymentIntentPurchase(pending)
	require.True(t, owned)
	assert.Equal(t, domain.PurchaseStatePending, p.State)

	pending.Status = stripe.PaymentIntentStatusCanceled
	_, owned = paymentIntentPurchase(pending)
	assert.False(t, owned)

	sub := &stripe.Subscription{ID: "sub_1", Status: stripe.SubscriptionStatusIncomplete, CancelAtPeriodEnd: true}
	_, owned = subscriptionPurchase(sub)
	assert.False(t, owned, "a subscription without items has no products")

	typ, ok := tokenType("sub_1")
	assert.True(t, ok)
	assert.Equal(t, domain.ProductTypeSubscription, typ)
	_, ok = tokenType("tok")
	assert.False(t, ok)
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, provider.DeveloperError, codeForStatus(http.StatusBadRequest))
	assert.Equal(t, provider.BillingUnavailable, codeForStatus(http.StatusUnauthorized))
	assert.Equal(t, provider.ServiceUnavailable, codeForStatus(http.StatusTooManyRequests))
	assert.Equal(t, provider.Error, codeForStatus(http.StatusInternalServerError))
}
