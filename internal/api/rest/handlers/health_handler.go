package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker проверяет доступность зависимости.
type HealthChecker func(ctx context.Context) error

// HealthHandler отчет о состоянии сервиса и хранилищ
type HealthHandler struct {
	checks map[string]HealthChecker
}

// NewHealthHandler создает обработчик health check
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthCheck обработчик для проверки работоспособности сервиса
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "OK"
	}

	overall := "OK"
	if status != http.StatusOK {
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"time":       time.Now().Format(time.RFC3339),
	})
}
