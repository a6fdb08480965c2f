package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/middleware"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/req"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/res"
)

// CheckoutStarter оформляет план.
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, in domain.CheckoutSession) (*domain.CheckoutResult, error)
}

// CheckoutHandler обработчик оформления плана
type CheckoutHandler struct {
	checkout CheckoutStarter
	log      *logger.Logger
}

// NewCheckoutHandler создает обработчик оформления
func NewCheckoutHandler(checkout CheckoutStarter, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, log: log}
}

type checkoutRequest struct {
	PlanType      domain.PlanType      `json:"planType"`
	BillingMethod domain.BillingMethod `json:"billingMethod"`
	SuccessURL    string               `json:"successUrl"`
	Name          string               `json:"name"`
	TaxID         string               `json:"taxId"`
}

// StartCheckout создает подписку или платеж и возвращает ссылку на оплату.
func (h *CheckoutHandler) StartCheckout(c *gin.Context) {
	body, err := req.Decode[checkoutRequest](c.Request.Body)
	if err != nil {
		h.log.Warnw("Invalid checkout request", "error", err)
		res.JSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "invalid request body", ErrorCode: "bad_request"})
		return
	}

	result, err := h.checkout.StartCheckout(c.Request.Context(), domain.CheckoutSession{
		UserID:        middleware.UserID(c),
		PlanType:      body.PlanType,
		BillingMethod: body.BillingMethod,
		SuccessURL:    body.SuccessURL,
		Email:         c.GetString(string(middleware.ContextEmailKey)),
		Name:          body.Name,
		TaxID:         body.TaxID,
	})
	if err != nil {
		res.Error(c, err)
		return
	}

	res.JSON(c, http.StatusCreated, result)
}
