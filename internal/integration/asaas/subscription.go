package asaas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
)

const dateLayout = "2006-01-02"

// Статусы платежей Asaas
const (
	paymentPending         = "PENDING"
	paymentConfirmed       = "CONFIRMED"
	paymentReceived        = "RECEIVED"
	paymentReceivedInCash  = "RECEIVED_IN_CASH"
	paymentOverdue         = "OVERDUE"
	paymentRefunded        = "REFUNDED"
	paymentRefundRequested = "REFUND_REQUESTED"
	subscriptionInactive   = "INACTIVE"
	subscriptionExpired    = "EXPIRED"
)

type callback struct {
	SuccessURL   string `json:"successUrl"`
	AutoRedirect bool   `json:"autoRedirect"`
}

type subscriptionRequest struct {
	Customer          string    `json:"customer"`
	BillingType       string    `json:"billingType"`
	Value             float64   `json:"value"`
	NextDueDate       string    `json:"nextDueDate"`
	Cycle             string    `json:"cycle"`
	Description       string    `json:"description,omitempty"`
	ExternalReference string    `json:"externalReference,omitempty"`
	Callback          *callback `json:"callback,omitempty"`
}

type paymentRequest struct {
	Customer          string    `json:"customer"`
	BillingType       string    `json:"billingType"`
	Value             float64   `json:"value"`
	DueDate           string    `json:"dueDate"`
	Description       string    `json:"description,omitempty"`
	ExternalReference string    `json:"externalReference,omitempty"`
	Callback          *callback `json:"callback,omitempty"`
}

// SubscriptionResponse подписка в Asaas
type SubscriptionResponse struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	ExternalReference string `json:"externalReference"`
	Deleted           bool   `json:"deleted"`
}

// PaymentResponse платеж (cobrança) в Asaas
type PaymentResponse struct {
	ID                string          `json:"id"`
	Customer          string          `json:"customer"`
	Subscription      string          `json:"subscription"`
	Status            string          `json:"status"`
	Value             decimal.Decimal `json:"value"`
	InvoiceURL        string          `json:"invoiceUrl"`
	BankSlipURL       string          `json:"bankSlipUrl"`
	ExternalReference string          `json:"externalReference"`
}

func newCallback(successURL string) *callback {
	if successURL == "" {
		return nil
	}
	return &callback{SuccessURL: successURL, AutoRedirect: true}
}

// CreateSubscription создает регулярную подписку. Ссылка на оплату берется
// из первого платежа подписки, если он уже сформирован.
func (c *Client) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (*gateway.Payment, error) {
	var sub SubscriptionResponse
	err := c.do(ctx, "create_subscription", "POST", "/subscriptions", subscriptionRequest{
		Customer:          req.CustomerID,
		BillingType:       string(req.BillingMethod),
		Value:             req.Amount.InexactFloat64(),
		NextDueDate:       req.NextDueDate.Format(dateLayout),
		Cycle:             string(req.Cycle),
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		Callback:          newCallback(req.CallbackURL),
	}, &sub)
	if err != nil {
		return nil, err
	}

	result := &gateway.Payment{ID: sub.ID}

	payments, err := c.subscriptionPayments(ctx, sub.ID, "")
	if err != nil {
		// Подписка уже создана: без ссылки пользователь получит инструкции по почте.
		c.log.Warnw("Failed to fetch first subscription payment", "subscriptionID", sub.ID, "error", err)
		return result, nil
	}
	if len(payments) > 0 {
		result.InvoiceURL = firstNonEmpty(payments[0].InvoiceURL, payments[0].BankSlipURL)
	}

	c.log.Infow("Created Asaas subscription", "subscriptionID", sub.ID, "userID", req.ExternalReference, "cycle", req.Cycle)
	return result, nil
}

// CreateCharge создает разовый платеж.
func (c *Client) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
	var payment PaymentResponse
	err := c.do(ctx, "create_charge", "POST", "/payments", paymentRequest{
		Customer:          req.CustomerID,
		BillingType:       string(req.BillingMethod),
		Value:             req.Amount.InexactFloat64(),
		DueDate:           req.DueDate.Format(dateLayout),
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		Callback:          newCallback(req.CallbackURL),
	}, &payment)
	if err != nil {
		return nil, err
	}

	c.log.Infow("Created Asaas charge", "paymentID", payment.ID, "userID", req.ExternalReference)
	return &gateway.Payment{ID: payment.ID, InvoiceURL: firstNonEmpty(payment.InvoiceURL, payment.BankSlipURL)}, nil
}

// CancelSubscription удаляет подписку. Уже удаленная подписка не считается ошибкой.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	err := c.do(ctx, "cancel_subscription", "DELETE", "/subscriptions/"+url.PathEscape(subscriptionID), nil, nil)
	if err != nil {
		var gwErr *domain.PaymentGatewayError
		if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound {
			c.log.Warnw("Asaas subscription already removed", "subscriptionID", subscriptionID)
			return nil
		}
		return err
	}

	c.log.Infow("Canceled Asaas subscription", "subscriptionID", subscriptionID)
	return nil
}

// RefundLatestPayment возвращает последний оплаченный платеж подписки.
func (c *Client) RefundLatestPayment(ctx context.Context, subscriptionID string) error {
	payments, err := c.subscriptionPayments(ctx, subscriptionID, "")
	if err != nil {
		return err
	}

	for _, p := range payments {
		switch p.Status {
		case paymentConfirmed, paymentReceived:
			if err := c.do(ctx, "refund", "POST", "/payments/"+url.PathEscape(p.ID)+"/refund", struct{}{}, nil); err != nil {
				return err
			}
			c.log.Infow("Refunded Asaas payment", "paymentID", p.ID, "subscriptionID", subscriptionID)
			return nil
		case paymentRefunded, paymentRefundRequested:
			return nil
		}
	}

	return domain.NewPaymentGatewayError(providerName, "refund", "no_paid_payment",
		fmt.Sprintf("subscription %s has no paid payment to refund", subscriptionID), http.StatusNotFound, nil)
}

// GetSubscriptionStatus статус подписки по ее платежам.
func (c *Client) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (gateway.Status, error) {
	var sub SubscriptionResponse
	if err := c.do(ctx, "get_subscription", "GET", "/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return gateway.StatusUnknown, err
	}
	if sub.Deleted || sub.Status == subscriptionInactive || sub.Status == subscriptionExpired {
		return gateway.StatusCanceled, nil
	}

	payments, err := c.subscriptionPayments(ctx, subscriptionID, "")
	if err != nil {
		return gateway.StatusUnknown, err
	}

	status := gateway.StatusPending
	for _, p := range payments {
		s := paymentStatus(p.Status)
		if s == gateway.StatusConfirmed {
			return s, nil
		}
		if s == gateway.StatusOverdue {
			status = s
		}
	}
	return status, nil
}

// GetChargeStatus статус разового платежа.
func (c *Client) GetChargeStatus(ctx context.Context, chargeID string) (gateway.Status, error) {
	var p PaymentResponse
	if err := c.do(ctx, "get_charge", "GET", "/payments/"+url.PathEscape(chargeID), nil, &p); err != nil {
		return gateway.StatusUnknown, err
	}
	return paymentStatus(p.Status), nil
}

func (c *Client) subscriptionPayments(ctx context.Context, subscriptionID, status string) ([]PaymentResponse, error) {
	path := "/subscriptions/" + url.PathEscape(subscriptionID) + "/payments"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var list listResponse[PaymentResponse]
	if err := c.do(ctx, "list_subscription_payments", "GET", path, nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func paymentStatus(s string) gateway.Status {
	switch s {
	case paymentConfirmed, paymentReceived, paymentReceivedInCash:
		return gateway.StatusConfirmed
	case paymentPending:
		return gateway.StatusPending
	case paymentOverdue:
		return gateway.StatusOverdue
	case paymentRefunded, paymentRefundRequested:
		return gateway.StatusRefunded
	default:
		return gateway.StatusUnknown
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
