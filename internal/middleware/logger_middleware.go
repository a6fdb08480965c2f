package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// RequestLogger логирует запросы, уровень зависит от кода ответа.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		path := c.Request.URL.Path
		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			path = path + "?" + rawQuery
		}

		c.Next()

		statusCode := c.Writer.Status()
		fields := []interface{}{
			"status_code", statusCode,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if userID := UserID(c); userID != "" {
			fields = append(fields, "userID", userID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case statusCode >= 500:
			log.Errorw("Request failed", fields...)
		case statusCode >= 400:
			log.Warnw("Request rejected", fields...)
		default:
			log.Infow("Request handled", fields...)
		}
	}
}
