package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
	"github.com/Dhoini/purchase-lifecycle/pkg/res"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextAccountIDKey ключ для хранения ID аккаунта в контексте
	ContextAccountIDKey ContextKey = "accountID"
	// ContextEmailKey ключ для хранения email в контексте
	ContextEmailKey  ContextKey = "email"
	authHeaderPrefix            = "Bearer "
)

type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

type TokenClaims struct {
	UserEmail string `json:"email"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTMiddleware проверяет Bearer токены. Без валидатора пропускает все запросы.
type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

func NewJWTMiddleware(log *logger.Logger, validator TokenValidator) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.validator == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, authHeaderPrefix) {
			m.handleAuthError(c, "Missing authorization token")
			return
		}

		claims, err := m.validator.Validate(strings.TrimPrefix(authHeader, authHeaderPrefix))
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
			return
		}

		if !hasRequiredScope(claims.Scope, requiredScopes) {
			m.handleAuthError(c, "Insufficient token permissions")
			return
		}

		if claims.Subject == "" {
			m.handleAuthError(c, "Account ID (sub) missing in token")
			return
		}

		c.Set(string(ContextAccountIDKey), claims.Subject)
		c.Set(string(ContextEmailKey), claims.UserEmail)
		m.log.Debugw("Request authenticated", "account", claims.Subject)
		c.Next()
	}
}

// hasRequiredScope проверяет scope токена. Scope может содержать несколько
// значений через пробел.
func hasRequiredScope(tokenScope string, requiredScopes []string) bool {
	if len(requiredScopes) == 0 {
		return true
	}
	for _, have := range strings.Fields(tokenScope) {
		for _, want := range requiredScopes {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: http.StatusUnauthorized,
	}, http.StatusUnauthorized)
	c.Abort()
}

// DefaultTokenValidator - реализация валидатора по умолчанию (HMAC).
type DefaultTokenValidator struct {
	Secret []byte
}

func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}

// AccountID возвращает ID аккаунта из контекста запроса
func AccountID(c *gin.Context) string {
	return c.GetString(string(ContextAccountIDKey))
}

// Email возвращает email из контекста запроса
func Email(c *gin.Context) string {
	return c.GetString(string(ContextEmailKey))
}
