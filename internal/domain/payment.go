package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MappingKind тип сущности шлюза, на которую указывает маппинг.
type MappingKind string

const (
	MappingSubscription MappingKind = "subscription"
	MappingCharge       MappingKind = "charge"
)

// MappingStatus статус ожидающего платежа
type MappingStatus string

const (
	MappingPending   MappingStatus = "pending"
	MappingConfirmed MappingStatus = "confirmed"
)

// PendingPaymentMapping связывает идентификатор подписки или платежа в шлюзе
// с пользователем. Записи не удаляются и служат журналом.
type PendingPaymentMapping struct {
	GatewayID   string        `bson:"_id" json:"gatewayId"`
	Kind        MappingKind   `bson:"kind" json:"kind"`
	UserID      string        `bson:"userId" json:"userId"`
	PlanType    PlanType      `bson:"planType" json:"planType"`
	CustomerID  string        `bson:"customerId,omitempty" json:"customerId,omitempty"`
	Status      MappingStatus `bson:"status" json:"status"`
	CreatedAt   time.Time     `bson:"createdAt" json:"createdAt"`
	ConfirmedAt *time.Time    `bson:"confirmedAt,omitempty" json:"confirmedAt,omitempty"`
}

// CustomerProfile данные пользователя, необходимые шлюзу.
type CustomerProfile struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
	TaxID string `json:"taxId"`
}

// CheckoutSession одна попытка оформления, не сохраняется.
type CheckoutSession struct {
	UserID        string        `json:"userId" validate:"required"`
	PlanType      PlanType      `json:"planType" validate:"required"`
	BillingMethod BillingMethod `json:"billingMethod" validate:"required"`
	SuccessURL    string        `json:"successUrl,omitempty"`
	Email         string        `json:"email" validate:"required,email"`
	Name          string        `json:"name"`
	TaxID         string        `json:"taxId" validate:"required_if=BillingMethod PIX"`
}

// CheckoutResult результат оформления для редиректа.
type CheckoutResult struct {
	PaymentURL string     `json:"paymentUrl,omitempty"`
	Message    string     `json:"message,omitempty"`
	GatewayID  string     `json:"gatewayId"`
	Plan       PlanRecord `json:"plan"`
}

// CancellationResult итог отмены.
type CancellationResult struct {
	Status         PlanStatus `json:"status"`
	RefundEligible bool       `json:"refundEligible"`
	Refunded       bool       `json:"refunded"`
	Warning        string     `json:"warning,omitempty"`
	CanceledAt     time.Time  `json:"canceledAt"`
	DaysSinceStart int        `json:"daysSinceStart"`
}

// ChargeAmount сумма в минимальных единицах валюты (центавос).
func ChargeAmount(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}
