package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/api/rest/handlers"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/middleware"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// Handlers обработчики, подключаемые к роутеру
type Handlers struct {
	Health   *handlers.HealthHandler
	Checkout *handlers.CheckoutHandler
	Plan     *handlers.PlanHandler
	Webhook  *handlers.WebhookHandler
	Admin    *handlers.AdminHandler
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(h Handlers, auth *middleware.AuthMiddleware, registry *prometheus.Registry, log *logger.Logger) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/plans", h.Plan.ListPlans)
		// вебхуки проверяются подписью провайдера, не токеном пользователя
		v1.POST("/webhooks/:provider", h.Webhook.HandleWebhook)

		authed := v1.Group("", auth.RequireAuth())
		{
			authed.POST("/checkout", h.Checkout.StartCheckout)
			authed.GET("/plan", h.Plan.GetPlan)
			authed.GET("/plan/await", h.Plan.AwaitActivation)
			authed.POST("/plan/cancel", h.Plan.Cancel)
		}

		admin := v1.Group("/admin", auth.RequireAuth(), auth.RequireAdmin())
		{
			admin.POST("/users/:id/plan/refresh", h.Admin.RefreshPlan)
			admin.PUT("/users/:id/plan", h.Admin.UpdatePlan)
			admin.GET("/webhooks/:id", h.Admin.GetWebhookEvent)
			admin.POST("/webhooks/:id/retry", h.Admin.RetryWebhookEvent)
		}
	}

	return r
}
