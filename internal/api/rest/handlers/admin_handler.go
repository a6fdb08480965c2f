package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/service"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/req"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/res"
)

// GatewayRefresher сверяет план пользователя со шлюзом.
type GatewayRefresher interface {
	RefreshFromGateway(ctx context.Context, userID string) (*service.RefreshResult, error)
}

// PlanOverwriter перезаписывает план вручную.
type PlanOverwriter interface {
	ForceUpdatePlan(ctx context.Context, userID string, rec domain.PlanRecord) (*service.PlanStatusView, error)
}

// WebhookAdmin доступ к журналу вебхуков.
type WebhookAdmin interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	RetryEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
}

// AdminHandler инструменты ручного исправления планов
type AdminHandler struct {
	refresher GatewayRefresher
	plans     PlanOverwriter
	webhooks  WebhookAdmin
	log       *logger.Logger
}

// NewAdminHandler создает обработчик администратора
func NewAdminHandler(refresher GatewayRefresher, plans PlanOverwriter, webhooks WebhookAdmin, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		refresher: refresher,
		plans:     plans,
		webhooks:  webhooks,
		log:       log,
	}
}

// RefreshPlan запрашивает статус в шлюзе и активирует оплаченный план
func (h *AdminHandler) RefreshPlan(c *gin.Context) {
	result, err := h.refresher.RefreshFromGateway(c.Request.Context(), c.Param("id"))
	if err != nil {
		res.Error(c, err)
		return
	}
	res.JSON(c, http.StatusOK, result)
}

// UpdatePlan перезаписывает план пользователя
func (h *AdminHandler) UpdatePlan(c *gin.Context) {
	rec, err := req.Decode[domain.PlanRecord](c.Request.Body)
	if err != nil {
		res.JSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "invalid request body", ErrorCode: "bad_request"})
		return
	}

	view, err := h.plans.ForceUpdatePlan(c.Request.Context(), c.Param("id"), rec)
	if err != nil {
		res.Error(c, err)
		return
	}
	res.JSON(c, http.StatusOK, view)
}

// GetWebhookEvent возвращает событие из журнала
func (h *AdminHandler) GetWebhookEvent(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	event, err := h.webhooks.GetEvent(c.Request.Context(), id)
	if err != nil {
		res.Error(c, err)
		return
	}
	res.JSON(c, http.StatusOK, event)
}

// RetryWebhookEvent повторяет обработку события
func (h *AdminHandler) RetryWebhookEvent(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	event, err := h.webhooks.RetryEvent(c.Request.Context(), id)
	if err != nil {
		res.Error(c, err)
		return
	}
	res.JSON(c, http.StatusOK, event)
}

func (h *AdminHandler) eventID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		res.JSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "invalid event id", ErrorCode: "bad_request"})
		return uuid.Nil, false
	}
	return id, true
}
