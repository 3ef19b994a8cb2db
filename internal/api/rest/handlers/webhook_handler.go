package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
	"github.com/Dhoini/purchase-lifecycle/pkg/res"
)

const maxWebhookBody = 1 << 20

// WebhookHandler принимает уведомления провайдера о покупках
type WebhookHandler struct {
	notifications provider.NotificationHandler
	log           *logger.Logger
}

// NewWebhookHandler создает обработчик. notifications может быть nil, если
// провайдер не присылает уведомлений.
func NewWebhookHandler(notifications provider.NotificationHandler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{notifications: notifications, log: log}
}

// HandleBillingWebhook передает тело запроса провайдеру
func (h *WebhookHandler) HandleBillingWebhook(c *gin.Context) {
	if h.notifications == nil {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Notifications are not supported by the billing provider"}, http.StatusNotFound, h.log)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.log.Error("Failed to read webhook body: %v", err)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Failed to read webhook body"}, http.StatusBadRequest, h.log)
		return
	}

	if err := h.notifications.HandleNotification(c.Request.Context(), body, c.Request.Header); err != nil {
		h.log.Errorw("Failed to handle billing notification", "error", err)
		writeError(c, err, h.log)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
