package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler обработчик для проверки работоспособности сервиса
type HealthHandler struct {
	billingState func() string
}

// NewHealthHandler создает обработчик. billingState может быть nil.
func NewHealthHandler(billingState func() string) *HealthHandler {
	return &HealthHandler{billingState: billingState}
}

// HealthCheck отвечает OK, пока процесс жив. Состояние соединения с
// провайдером только сообщается и не влияет на статус.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status": "OK",
		"time":   time.Now().Format(time.RFC3339),
	}
	if h.billingState != nil {
		body["billing"] = h.billingState()
	}
	c.JSON(http.StatusOK, body)
}
