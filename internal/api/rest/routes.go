package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dhoini/purchase-lifecycle/internal/api/rest/handlers"
	"github.com/Dhoini/purchase-lifecycle/internal/api/rest/middleware"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// billingScope scope токена, открывающий API покупок
const billingScope = "billing"

// RouterDeps зависимости маршрутизатора
type RouterDeps struct {
	Purchases     handlers.PurchaseService
	Notifications provider.NotificationHandler
	BillingState  func() string
	Registry      *prometheus.Registry
	// Validator проверяет JWT. nil отключает авторизацию.
	Validator middleware.TokenValidator
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(log *logger.Logger, deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	health := handlers.NewHealthHandler(deps.BillingState)
	r.GET("/health", health.HealthCheck)

	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	purchaseHandler := handlers.NewPurchaseHandler(deps.Purchases, log)
	webhookHandler := handlers.NewWebhookHandler(deps.Notifications, log)
	auth := middleware.NewJWTMiddleware(log, deps.Validator)

	v1 := r.Group("/api/v1", auth.RequireAuth(billingScope))
	{
		v1.GET("/catalog", purchaseHandler.GetCatalog)
		v1.GET("/entitlements", purchaseHandler.GetEntitlements)

		purchases := v1.Group("/purchases")
		{
			purchases.GET("", purchaseHandler.GetPurchases)
			purchases.POST("/refresh", purchaseHandler.Refresh)
			purchases.POST("/launch", purchaseHandler.Launch)
			purchases.POST("/:token/acknowledge", purchaseHandler.Acknowledge)
		}
	}

	// Вебхуки провайдера проверяются самим провайдером
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/billing", webhookHandler.HandleBillingWebhook)
	}
	return r
}
