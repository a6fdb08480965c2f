package asaas

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

// WebhookTokenHeader заголовок с токеном, заданным при настройке вебхука в Asaas.
const WebhookTokenHeader = "asaas-access-token"

// WebhookEvent представляет событие от Asaas Webhook
type WebhookEvent struct {
	ID           string                `json:"id"`
	Event        string                `json:"event"`
	Payment      *PaymentResponse      `json:"payment,omitempty"`
	Subscription *SubscriptionResponse `json:"subscription,omitempty"`
}

// ParseWebhook проверяет токен и нормализует событие.
func (c *Client) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*domain.GatewayEvent, error) {
	if c.webhookToken == "" {
		return nil, fmt.Errorf("%w: webhook token is not configured", domain.ErrInvalidWebhook)
	}
	token := header.Get(WebhookTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.webhookToken)) != 1 {
		return nil, fmt.Errorf("%w: bad access token", domain.ErrInvalidWebhook)
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWebhook, err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", domain.ErrInvalidWebhook)
	}

	out := &domain.GatewayEvent{
		ID:       event.ID,
		Provider: providerName,
		RawType:  event.Event,
		Type:     eventType(event.Event),
	}

	var resourceID string
	switch {
	case event.Payment != nil && event.Payment.ID != "":
		resourceID = event.Payment.ID
		out.GatewayID = event.Payment.ID
		out.ExternalReference = event.Payment.ExternalReference
		// Платеж подписки сверяется по идентификатору подписки.
		if event.Payment.Subscription != "" {
			out.GatewayID = event.Payment.Subscription
		}
	case event.Subscription != nil && event.Subscription.ID != "":
		resourceID = event.Subscription.ID
		out.GatewayID = event.Subscription.ID
		out.ExternalReference = event.Subscription.ExternalReference
	default:
		return nil, fmt.Errorf("%w: event %s carries no payment or subscription", domain.ErrInvalidWebhook, event.Event)
	}

	// Старые вебхуки приходят без id: дедупликация по событию и ресурсу.
	if out.ID == "" {
		out.ID = event.Event + ":" + resourceID
	}

	c.log.Debugw("Parsed Asaas webhook", "event", event.Event, "gatewayID", out.GatewayID, "eventID", out.ID)
	return out, nil
}

func eventType(event string) domain.GatewayEventType {
	switch event {
	case "PAYMENT_CONFIRMED", "PAYMENT_RECEIVED":
		return domain.GatewayEventPaymentConfirmed
	case "PAYMENT_REFUNDED":
		return domain.GatewayEventPaymentRefunded
	case "PAYMENT_OVERDUE", "PAYMENT_REPROVED_BY_RISK_ANALYSIS", "PAYMENT_CREDIT_CARD_CAPTURE_REFUSED":
		return domain.GatewayEventPaymentFailed
	case "SUBSCRIPTION_DELETED", "SUBSCRIPTION_INACTIVATED":
		return domain.GatewayEventSubscriptionCanceled
	default:
		return domain.GatewayEventUnknown
	}
}
