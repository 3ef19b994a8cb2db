package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/purchase-lifecycle/internal/api/rest/middleware"
	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/internal/service"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
	"github.com/Dhoini/purchase-lifecycle/pkg/req"
)

// PurchaseService операции над покупками, доступные через HTTP
type PurchaseService interface {
	Purchases() service.PurchasesSnapshot
	Catalog() service.CatalogSnapshot
	Entitlements(ctx context.Context) (service.Entitlements, error)
	Subscriptions(ctx context.Context) ([]domain.SubscriptionStatus, error)
	OneTimeProducts(ctx context.Context) ([]domain.OneTimeProductStatus, error)
	Refresh(ctx context.Context) error
	Launch(ctx context.Context, host provider.Host, params provider.FlowParams) error
	Acknowledge(ctx context.Context, purchaseToken string) error
}

// PurchaseHandler обработчик для покупок
type PurchaseHandler struct {
	service PurchaseService
	log     *logger.Logger
}

// NewPurchaseHandler создает новый обработчик покупок
func NewPurchaseHandler(svc PurchaseService, log *logger.Logger) *PurchaseHandler {
	return &PurchaseHandler{service: svc, log: log}
}

// GetPurchases возвращает текущие списки покупок
func (h *PurchaseHandler) GetPurchases(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Purchases())
}

// GetCatalog возвращает метаданные продуктов
func (h *PurchaseHandler) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Catalog())
}

// GetEntitlements возвращает права доступа и сохраненные статусы
func (h *PurchaseHandler) GetEntitlements(c *gin.Context) {
	ctx := c.Request.Context()

	entitlements, err := h.service.Entitlements(ctx)
	if err != nil {
		h.log.Error("Failed to compute entitlements: %v", err)
		writeError(c, err, h.log)
		return
	}
	subs, err := h.service.Subscriptions(ctx)
	if err != nil {
		writeError(c, err, h.log)
		return
	}
	oneTime, err := h.service.OneTimeProducts(ctx)
	if err != nil {
		writeError(c, err, h.log)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entitlements":      entitlements,
		"subscriptions":     subs,
		"one_time_products": oneTime,
	})
}

// Refresh заново запрашивает каталог и покупки
func (h *PurchaseHandler) Refresh(c *gin.Context) {
	if err := h.service.Refresh(c.Request.Context()); err != nil {
		writeError(c, err, h.log)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
}

// Launch запускает покупку
func (h *PurchaseHandler) Launch(c *gin.Context) {
	params, err := req.HandleBody[provider.FlowParams](c.Writer, c.Request, h.log)
	if err != nil {
		_ = c.Error(err)
		return
	}

	host := provider.Host{AccountID: middleware.AccountID(c), Email: middleware.Email(c)}
	if err := h.service.Launch(c.Request.Context(), host, *params); err != nil {
		writeError(c, err, h.log)
		return
	}

	h.log.Info("Billing flow launched for product %s", params.ProductID)
	c.JSON(http.StatusAccepted, gin.H{"status": "launched", "product_id": params.ProductID})
}

// Acknowledge подтверждает покупку по токену
func (h *PurchaseHandler) Acknowledge(c *gin.Context) {
	token := c.Param("token")
	if err := h.service.Acknowledge(c.Request.Context(), token); err != nil {
		writeError(c, err, h.log)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase_token": token, "acknowledged": true})
}
