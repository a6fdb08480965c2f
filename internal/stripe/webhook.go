package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

// SignatureHeader заголовок подписи вебхука Stripe
const SignatureHeader = "Stripe-Signature"

// ParseWebhook проверяет подпись и нормализует событие.
func (g *Gateway) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*domain.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(SignatureHeader), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWebhook, err)
	}

	out := &domain.GatewayEvent{
		ID:       event.ID,
		Provider: providerName,
		RawType:  string(event.Type),
		Type:     domain.GatewayEventUnknown,
	}

	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice payload: %v", domain.ErrInvalidWebhook, err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			// разовые платежи подтверждаются через checkout.session
			g.log.Debugw("Ignoring invoice without subscription", "type", event.Type, "eventID", event.ID, "invoiceID", inv.ID)
			break
		}
		out.GatewayID = inv.Subscription.ID
		out.Type = domain.GatewayEventPaymentConfirmed
		if event.Type == "invoice.payment_failed" {
			out.Type = domain.GatewayEventPaymentFailed
		}

	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: session payload: %v", domain.ErrInvalidWebhook, err)
		}
		out.GatewayID = session.ID
		out.ExternalReference = session.ClientReferenceID
		switch {
		case event.Type == "checkout.session.async_payment_failed":
			out.Type = domain.GatewayEventPaymentFailed
		case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
			out.Type = domain.GatewayEventPaymentConfirmed
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription payload: %v", domain.ErrInvalidWebhook, err)
		}
		out.GatewayID = sub.ID
		out.ExternalReference = sub.Metadata[metadataUserIDKey]
		out.Type = domain.GatewayEventSubscriptionCanceled

	default:
		g.log.Debugw("Unhandled Stripe event type", "type", event.Type, "eventID", event.ID)
	}

	return out, nil
}
