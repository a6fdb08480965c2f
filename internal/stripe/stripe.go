package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

const (
	providerName = "stripe"

	// Ключ метаданных для связи Stripe Customer с пользователем
	metadataUserIDKey = "user_id"
	metadataTaxIDKey  = "tax_id"
	metadataPlanKey   = "plan_type"
)

// Config конфигурация адаптера Stripe
type Config struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	// PriceIDs сопоставляет тип плана с Price ID.
	PriceIDs map[string]string
	// Backends позволяет подменить API (тесты, stripe-mock).
	Backends *stripe.Backends
}

// Gateway реализует gateway.Gateway поверх Stripe SDK.
type Gateway struct {
	client        *client.API    // Клиент Stripe SDK
	webhookSecret string
	currency      string
	priceIDs      map[string]string
	log           *logger.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway создает новый экземпляр адаптера Stripe.
func NewGateway(cfg Config, log *logger.Logger) *Gateway {
	sc := &client.API{}
	sc.Init(cfg.APIKey, cfg.Backends) // Инициализируем клиент Stripe с API ключом

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyBRL)
	}

	return &Gateway{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		priceIDs:      cfg.PriceIDs,
		log:           log,
	}
}

// Name возвращает имя провайдера
func (g *Gateway) Name() string {
	return providerName
}

// CreateOrGetCustomer ищет клиента по email через Search API, если не находит - создает нового.
func (g *Gateway) CreateOrGetCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("email:'%s'", strings.ReplaceAll(req.Email, "'", "\\'")),
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}

	customers := g.client.Customers.Search(searchParams)
	if customers.Next() {
		customer := customers.Customer()
		g.log.Debugw("Found existing Stripe customer via Search", "stripeCustomerID", customer.ID, "userID", req.ExternalReference)
		return customer.ID, nil
	}
	if err := customers.Err(); err != nil {
		logStripeError(g.log, "SearchCustomers", err)
		return "", toGatewayError("find_customer", err)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.AddMetadata(metadataUserIDKey, req.ExternalReference)
	if req.TaxID != "" {
		params.AddMetadata(metadataTaxIDKey, req.TaxID)
	}
	params.Context = ctx

	cus, err := g.client.Customers.New(params)
	if err != nil {
		logStripeError(g.log, "CreateCustomer", err)
		return "", toGatewayError("create_customer", err)
	}

	g.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", req.ExternalReference)
	return cus.ID, nil
}

// CreateSubscription создает подписку на Price, настроенный для плана.
func (g *Gateway) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (*gateway.Payment, error) {
	priceID := g.priceIDs[string(req.PlanType)]
	if priceID == "" {
		return nil, domain.NewPaymentGatewayError(providerName, "create_subscription", "price_not_configured",
			fmt.Sprintf("no Stripe price configured for plan %s", req.PlanType), http.StatusBadRequest, nil)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(priceID),
			},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		Params: stripe.Params{
			IdempotencyKey: stripe.String(idempotencyKey("sub", req.IdempotencyKey)),
			Context:        ctx,
		},
	}
	if types := paymentMethodTypes(req.BillingMethod, false); len(types) > 0 {
		params.PaymentSettings = &stripe.SubscriptionPaymentSettingsParams{
			PaymentMethodTypes: stripe.StringSlice(types),
		}
	}
	params.AddMetadata(metadataUserIDKey, req.ExternalReference)
	params.AddMetadata(metadataPlanKey, string(req.PlanType))
	params.AddExpand("latest_invoice")

	sub, err := g.client.Subscriptions.New(params)
	if err != nil {
		logStripeError(g.log, "CreateSubscription", err)
		return nil, toGatewayError("create_subscription", err)
	}

	g.log.Infow("Stripe subscription created", "stripeSubscriptionID", sub.ID, "status", string(sub.Status))

	result := &gateway.Payment{ID: sub.ID}
	if sub.LatestInvoice != nil {
		result.InvoiceURL = sub.LatestInvoice.HostedInvoiceURL
	}
	return result, nil
}

// CreateCharge создает Checkout Session для разового платежа.
// Идентификатор сессии служит ключом сверки.
func (g *Gateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.ExternalReference),
		SuccessURL:        stripe.String(req.CallbackURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(domain.ChargeAmount(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if types := paymentMethodTypes(req.BillingMethod, true); len(types) > 0 {
		params.PaymentMethodTypes = stripe.StringSlice(types)
	}
	params.AddMetadata(metadataUserIDKey, req.ExternalReference)
	params.AddMetadata(metadataPlanKey, string(req.PlanType))
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey("charge", req.IdempotencyKey))

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(g.log, "CreateCheckoutSession", err)
		return nil, toGatewayError("create_charge", err)
	}

	g.log.Infow("Stripe checkout session created", "sessionID", session.ID, "userID", req.ExternalReference)
	return &gateway.Payment{ID: session.ID, InvoiceURL: session.URL}, nil
}

// CancelSubscription отменяет подписку в Stripe немедленно.
func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}

	_, err := g.client.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		// Обрабатываем случай, если подписка уже удалена
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			g.log.Warnw("Attempted to cancel already canceled/missing Stripe subscription", "stripeSubscriptionID", subscriptionID)
			return nil
		}
		logStripeError(g.log, "CancelSubscription", err)
		return toGatewayError("cancel_subscription", err)
	}

	g.log.Infow("Stripe subscription canceled", "stripeSubscriptionID", subscriptionID)
	return nil
}

// RefundLatestPayment возвращает платеж последнего счета подписки.
func (g *Gateway) RefundLatestPayment(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := g.client.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		logStripeError(g.log, "GetSubscription", err)
		return toGatewayError("refund", err)
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil {
		return domain.NewPaymentGatewayError(providerName, "refund", "no_paid_payment",
			fmt.Sprintf("subscription %s has no paid invoice to refund", subscriptionID), http.StatusNotFound, nil)
	}

	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(sub.LatestInvoice.PaymentIntent.ID),
	}
	refundParams.Context = ctx

	if _, err := g.client.Refunds.New(refundParams); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return nil
		}
		logStripeError(g.log, "CreateRefund", err)
		return toGatewayError("refund", err)
	}

	g.log.Infow("Stripe payment refunded", "stripeSubscriptionID", subscriptionID, "paymentIntentID", sub.LatestInvoice.PaymentIntent.ID)
	return nil
}

// GetSubscriptionStatus статус подписки в терминах сверки.
func (g *Gateway) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (gateway.Status, error) {
	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	sub, err := g.client.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		logStripeError(g.log, "GetSubscription", err)
		return gateway.StatusUnknown, toGatewayError("get_subscription_status", err)
	}
	return subscriptionStatus(sub.Status), nil
}

// GetChargeStatus статус Checkout Session разового платежа.
func (g *Gateway) GetChargeStatus(ctx context.Context, chargeID string) (gateway.Status, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := g.client.CheckoutSessions.Get(chargeID, params)
	if err != nil {
		logStripeError(g.log, "GetCheckoutSession", err)
		return gateway.StatusUnknown, toGatewayError("get_charge_status", err)
	}
	return sessionStatus(session), nil
}

func subscriptionStatus(s stripe.SubscriptionStatus) gateway.Status {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return gateway.StatusConfirmed
	case stripe.SubscriptionStatusIncomplete:
		return gateway.StatusPending
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return gateway.StatusOverdue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return gateway.StatusCanceled
	default:
		return gateway.StatusUnknown
	}
}

func sessionStatus(s *stripe.CheckoutSession) gateway.Status {
	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return gateway.StatusConfirmed
	case s.Status == stripe.CheckoutSessionStatusExpired:
		return gateway.StatusCanceled
	default:
		return gateway.StatusPending
	}
}

func paymentMethodTypes(m domain.BillingMethod, oneOff bool) []string {
	switch m {
	case domain.BillingCreditCard:
		return []string{"card"}
	case domain.BillingBoleto:
		return []string{"boleto"}
	case domain.BillingPIX:
		// PIX в Stripe доступен только для разовых платежей.
		if oneOff {
			return []string{"pix"}
		}
	}
	return nil
}

// idempotencyKey ключ Stripe для одной попытки оформления. Без ключа попытки
// каждый вызов получает собственный ключ.
func idempotencyKey(op, attempt string) string {
	if attempt == "" {
		attempt = uuid.NewString()
	}
	return op + ":" + attempt
}

// toGatewayError переводит ошибку SDK в PaymentGatewayError с сообщением Stripe.
func toGatewayError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		gwErr := domain.NewPaymentGatewayError(providerName, op, string(stripeErr.Code), stripeErr.Msg, stripeErr.HTTPStatusCode, err)
		gwErr.Retryable = stripeErr.HTTPStatusCode == 0 || gateway.RetryableStatus(stripeErr.HTTPStatusCode)
		return gwErr
	}

	gwErr := domain.NewPaymentGatewayError(providerName, op, "network_error", "payment gateway unreachable", 0, err)
	gwErr.Retryable = !errors.Is(err, context.Canceled)
	return gwErr
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
