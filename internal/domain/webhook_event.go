package domain

import (
	"time"

	"github.com/google/uuid"
)

// GatewayEventType нормализованный тип события шлюза
type GatewayEventType string

const (
	GatewayEventPaymentConfirmed     GatewayEventType = "payment_confirmed"
	GatewayEventPaymentRefunded      GatewayEventType = "payment_refunded"
	GatewayEventPaymentFailed        GatewayEventType = "payment_failed"
	GatewayEventSubscriptionCanceled GatewayEventType = "subscription_canceled"
	GatewayEventUnknown              GatewayEventType = "unknown"
)

// GatewayEvent событие шлюза после разбора. Сверка опирается только на
// идентификатор сущности и признак подтверждения.
type GatewayEvent struct {
	ID       string           `json:"id"`
	Provider string           `json:"provider"`
	Type     GatewayEventType `json:"type"`
	RawType  string           `json:"rawType"`
	// GatewayID идентификатор подписки или разового платежа.
	GatewayID         string `json:"gatewayId"`
	ExternalReference string `json:"externalReference,omitempty"`
}

// Confirmed сообщает, подтверждает ли событие оплату.
func (e GatewayEvent) Confirmed() bool {
	return e.Type == GatewayEventPaymentConfirmed
}

// WebhookEventStatus статус обработки события
type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
	WebhookEventStatusDuplicate WebhookEventStatus = "duplicate"
)

// WebhookEvent запись журнала входящих вебхуков
type WebhookEvent struct {
	ID           uuid.UUID          `json:"id"`
	ExternalID   string             `json:"external_id"` // ID события в платежной системе
	Type         GatewayEventType   `json:"type"`
	RawType      string             `json:"raw_type"`
	Status       WebhookEventStatus `json:"status"`
	Payload      []byte             `json:"payload"`
	ResourceID   string             `json:"resource_id"` // ID подписки или платежа
	Reference    string             `json:"reference"`   // externalReference, ID пользователя
	Provider     string             `json:"provider"`    // Название платежной системы
	AttemptCount int                `json:"attempt_count"`
	LastAttempt  *time.Time         `json:"last_attempt,omitempty"`
	ProcessedAt  *time.Time         `json:"processed_at,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// GatewayEvent восстанавливает нормализованное событие из записи журнала.
func (w WebhookEvent) GatewayEvent() GatewayEvent {
	return GatewayEvent{
		ID:                w.ExternalID,
		Provider:          w.Provider,
		Type:              w.Type,
		RawType:           w.RawType,
		GatewayID:         w.ResourceID,
		ExternalReference: w.Reference,
	}
}
