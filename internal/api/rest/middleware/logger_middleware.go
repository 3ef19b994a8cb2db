package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// LoggerMiddleware создает middleware для логирования запросов
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"status_code", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Errorw("Request handled", fields...)
		case status >= 400:
			log.Warnw("Request handled", fields...)
		default:
			log.Infow("Request handled", fields...)
		}
	}
}
