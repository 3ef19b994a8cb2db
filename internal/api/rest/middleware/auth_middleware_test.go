package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

var secret = []byte("test-secret")

func signed(t *testing.T, claims TokenClaims, key []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newRouter(m *JWTMiddleware, scopes ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", m.RequireAuth(scopes...), func(c *gin.Context) {
		c.String(http.StatusOK, AccountID(c))
	})
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	m := NewJWTMiddleware(logger.NewNop(), &DefaultTokenValidator{Secret: secret})
	r := newRouter(m, "billing")

	valid := TokenClaims{
		Scope: "read billing",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	w := do(r, signed(t, valid, secret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acct-1", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, signed(t, valid, []byte("other"))).Code)

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(r, signed(t, expired, secret)).Code)

	noScope := valid
	noScope.Scope = "read"
	assert.Equal(t, http.StatusUnauthorized, do(r, signed(t, noScope, secret)).Code)

	noSubject := valid
	noSubject.Subject = ""
	assert.Equal(t, http.StatusUnauthorized, do(r, signed(t, noSubject, secret)).Code)
}

func TestRequireAuth_DisabledWithoutValidator(t *testing.T) {
	r := newRouter(NewJWTMiddleware(logger.NewNop(), nil))
	assert.Equal(t, http.StatusOK, do(r, "").Code)
}
