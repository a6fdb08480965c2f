package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/middleware"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/service"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/res"
)

// PlanReader отдает каталог и состояние плана.
type PlanReader interface {
	ListPlans() []domain.Plan
	GetPlanStatus(ctx context.Context, userID string) (*service.PlanStatusView, error)
}

// ActivationWaiter ожидает подтверждения оплаты.
type ActivationWaiter interface {
	AwaitActivation(ctx context.Context, userID string, opts service.PollOptions) (service.AwaitResult, error)
}

// Canceler отменяет подписку.
type Canceler interface {
	Cancel(ctx context.Context, userID string) (*domain.CancellationResult, error)
}

// PlanHandler обработчик плана текущего пользователя
type PlanHandler struct {
	plans    PlanReader
	waiter   ActivationWaiter
	canceler Canceler
	log      *logger.Logger
}

// NewPlanHandler создает обработчик плана
func NewPlanHandler(plans PlanReader, waiter ActivationWaiter, canceler Canceler, log *logger.Logger) *PlanHandler {
	return &PlanHandler{
		plans:    plans,
		waiter:   waiter,
		canceler: canceler,
		log:      log,
	}
}

// ListPlans возвращает каталог планов
func (h *PlanHandler) ListPlans(c *gin.Context) {
	res.JSON(c, http.StatusOK, h.plans.ListPlans())
}

// GetPlan возвращает состояние плана и доступ пользователя
func (h *PlanHandler) GetPlan(c *gin.Context) {
	view, err := h.plans.GetPlanStatus(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		res.Error(c, err)
		return
	}
	res.JSON(c, http.StatusOK, view)
}

// AwaitActivation опрашивает план до подтверждения оплаты. Ответ 200 в обоих
// исходах: pending означает, что подтверждение придет позже.
func (h *PlanHandler) AwaitActivation(c *gin.Context) {
	opts := service.PollOptions{}
	if raw := c.Query("interval"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			res.JSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "invalid interval", ErrorCode: "bad_request"})
			return
		}
		opts.Interval = interval
	}
	if raw := c.Query("attempts"); raw != "" {
		attempts, err := strconv.Atoi(raw)
		if err != nil || attempts <= 0 {
			res.JSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "invalid attempts", ErrorCode: "bad_request"})
			return
		}
		opts.Attempts = attempts
	}

	result, err := h.waiter.AwaitActivation(c.Request.Context(), middleware.UserID(c), opts)
	if err != nil {
		if c.Request.Context().Err() != nil {
			h.log.Debugw("Client stopped waiting for activation", "userID", middleware.UserID(c))
			c.Abort()
			return
		}
		res.Error(c, err)
		return
	}
	res.JSON(c, http.StatusOK, result)
}

// Cancel отменяет подписку текущего пользователя
func (h *PlanHandler) Cancel(c *gin.Context) {
	result, err := h.canceler.Cancel(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		res.Error(c, err)
		return
	}
	res.JSON(c, http.StatusOK, result)
}
