// Package gateway описывает контракт платежного шлюза, который использует биллинг.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

// Status статус подписки или платежа на стороне шлюза
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusOverdue   Status = "overdue"
	StatusCanceled  Status = "canceled"
	StatusRefunded  Status = "refunded"
	StatusUnknown   Status = "unknown"
)

// CustomerRequest данные клиента. Поиск существующего клиента идет по email.
type CustomerRequest struct {
	Email             string
	Name              string
	TaxID             string
	ExternalReference string
}

// SubscriptionRequest параметры регулярной подписки
type SubscriptionRequest struct {
	CustomerID        string
	PlanType          domain.PlanType
	BillingMethod     domain.BillingMethod
	Amount            decimal.Decimal
	Cycle             domain.BillingCycle
	NextDueDate       time.Time
	Description       string
	ExternalReference string
	CallbackURL       string
	// IdempotencyKey уникален для попытки оформления; повторы внутри Resilient его сохраняют.
	IdempotencyKey    string
}

// ChargeRequest параметры разового платежа
type ChargeRequest struct {
	CustomerID        string
	PlanType          domain.PlanType
	BillingMethod     domain.BillingMethod
	Amount            decimal.Decimal
	DueDate           time.Time
	Description       string
	ExternalReference string
	CallbackURL       string
	// IdempotencyKey уникален для попытки оформления; повторы внутри Resilient его сохраняют.
	IdempotencyKey    string
}

// Payment созданная в шлюзе подписка или платеж.
// InvoiceURL может быть пустым: инструкции придут по почте.
type Payment struct {
	ID         string
	InvoiceURL string
}

// Gateway платежный шлюз
type Gateway interface {
	// Name короткое имя провайдера для логов и метрик.
	Name() string
	// CreateOrGetCustomer идемпотентен по email.
	CreateOrGetCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Payment, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*Payment, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	// RefundLatestPayment возвращает последний оплаченный платеж подписки.
	RefundLatestPayment(ctx context.Context, subscriptionID string) error
	GetSubscriptionStatus(ctx context.Context, subscriptionID string) (Status, error)
	GetChargeStatus(ctx context.Context, chargeID string) (Status, error)
	// ParseWebhook проверяет подлинность и нормализует событие.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*domain.GatewayEvent, error)
}

// Observer получает длительность и результат каждого вызова шлюза.
type Observer interface {
	ObserveGatewayCall(provider, operation string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveGatewayCall(string, string, time.Duration, error) {}
