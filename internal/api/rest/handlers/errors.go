package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/service"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
	"github.com/Dhoini/purchase-lifecycle/pkg/res"
)

// errorStatus переводит ошибку сервиса в HTTP статус
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrLaunchFailed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAcknowledgementFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, log *logger.Logger) {
	status := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	_ = c.Error(err)
	res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: message}, status, log)
}
