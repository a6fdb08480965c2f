package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/kafka"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/req"
)

// MessageCheckEmail показывается, когда шлюз не вернул ссылку на оплату.
const MessageCheckEmail = "Pagamento criado. Verifique seu e-mail para as instruções de pagamento."

// CheckoutService оформляет план через платежный шлюз.
type CheckoutService struct {
	deps   Deps
	gw     gateway.Gateway
	writer planWriter
	cfg    config.CheckoutConfig
}

// NewCheckoutService создает сервис оформления
func NewCheckoutService(deps Deps, gw gateway.Gateway, cfg config.CheckoutConfig, casRetries uint64) *CheckoutService {
	deps = deps.withDefaults()
	return &CheckoutService{
		deps:   deps,
		gw:     gw,
		writer: newPlanWriter(deps, casRetries),
		cfg:    cfg,
	}
}

// StartCheckout создает клиента и подписку (или разовый платеж) в шлюзе, затем
// записывает провизорный trial и маппинг для сверки. Проверка данных идет до
// любого вызова шлюза. Если создание в шлюзе не удалось, план не меняется.
func (s *CheckoutService) StartCheckout(ctx context.Context, in domain.CheckoutSession) (*domain.CheckoutResult, error) {
	log := s.deps.Log

	user, err := s.deps.Users.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	fillProfile(&in, user)

	plan, err := s.validate(in)
	if err != nil {
		s.deps.Metrics.IncCheckout(in.PlanType, in.BillingMethod, "invalid")
		log.Infow("Checkout rejected", "userID", in.UserID, "plan", in.PlanType, "error", err)
		return nil, err
	}

	customerID, err := s.gw.CreateOrGetCustomer(ctx, gateway.CustomerRequest{
		Email:             in.Email,
		Name:              in.Name,
		TaxID:             in.TaxID,
		ExternalReference: in.UserID,
	})
	if err != nil {
		s.deps.Metrics.IncCheckout(in.PlanType, in.BillingMethod, "gateway_error")
		log.Errorw("Failed to resolve gateway customer", "userID", in.UserID, "error", err)
		return nil, err
	}

	now := s.deps.Clock.Now()
	payment, kind, err := s.createPayment(ctx, in, plan, customerID)
	if err != nil {
		s.deps.Metrics.IncCheckout(in.PlanType, in.BillingMethod, "gateway_error")
		log.Errorw("Failed to create gateway payment", "userID", in.UserID, "plan", plan.Type, "error", err)
		return nil, err
	}

	ref := domain.GatewayRef{CustomerID: customerID}
	if kind == domain.MappingSubscription {
		ref.SubscriptionID = payment.ID
	}
	provisional := domain.Trial{
		Plan:  plan.Type,
		Dates: domain.Period{Start: now, End: now.Add(plan.Duration)},
		Ref:   ref,
	}

	write, writeErr := s.writer.apply(ctx, in.UserID, "checkout", func(_ *domain.User, current domain.PlanState) (domain.PlanState, bool, error) {
		// подтверждение уже пришло раньше провизорной записи
		if current != nil && current.Status() == domain.StatusActive &&
			ref.SubscriptionID != "" && current.GatewayRef().SubscriptionID == ref.SubscriptionID {
			return current, false, nil
		}
		return provisional, true, nil
	})

	// Маппинг нужен сверке даже если провизорная запись не удалась.
	mapping := domain.PendingPaymentMapping{
		GatewayID:  payment.ID,
		Kind:       kind,
		UserID:     in.UserID,
		PlanType:   plan.Type,
		CustomerID: customerID,
		Status:     domain.MappingPending,
		CreatedAt:  now,
	}
	if err := s.deps.Mappings.CreateMapping(ctx, mapping); err != nil {
		log.Warnw("Failed to persist payment mapping, reconciliation will rely on polling",
			"userID", in.UserID, "gatewayID", payment.ID, "error", err)
	}

	if writeErr != nil {
		s.deps.Metrics.IncCheckout(in.PlanType, in.BillingMethod, "store_error")
		log.Errorw("Failed to write provisional plan", "userID", in.UserID, "gatewayID", payment.ID, "error", writeErr)
		return nil, fmt.Errorf("checkout: provisional plan write: %w", writeErr)
	}

	s.deps.Metrics.IncCheckout(in.PlanType, in.BillingMethod, "ok")
	s.deps.publish(ctx, kafka.TopicCheckoutStarted, kafka.PlanEvent{
		UserID:    in.UserID,
		PlanType:  plan.Type,
		Status:    write.state.Status(),
		GatewayID: payment.ID,
		Provider:  s.gw.Name(),
	})

	result := &domain.CheckoutResult{
		PaymentURL: payment.InvoiceURL,
		GatewayID:  payment.ID,
		Plan:       domain.RecordOf(write.state),
	}
	if write.user != nil && write.user.Plan != nil {
		result.Plan = *write.user.Plan
	}
	if result.PaymentURL == "" {
		result.Message = MessageCheckEmail
	}

	log.Infow("Checkout started", "userID", in.UserID, "plan", plan.Type, "gatewayID", payment.ID, "kind", kind)
	return result, nil
}

func (s *CheckoutService) validate(in domain.CheckoutSession) (domain.Plan, error) {
	var verrs domain.ValidationErrors
	if err := req.IsValid(in); err != nil && !errors.As(err, &verrs) {
		return domain.Plan{}, err
	}

	plan, err := domain.LookupPlan(in.PlanType)
	switch {
	case in.PlanType == "":
		// отмечено валидатором
	case err != nil:
		verrs.Add("planType", "is unknown")
	case !plan.Purchasable():
		verrs.Add("planType", "cannot be purchased")
	}

	if in.BillingMethod != "" && !in.BillingMethod.Valid() {
		verrs.Add("billingMethod", "is not supported")
	}

	if verrs.HasErrors() {
		return domain.Plan{}, verrs
	}
	return plan, nil
}

func (s *CheckoutService) createPayment(ctx context.Context, in domain.CheckoutSession, plan domain.Plan, customerID string) (*gateway.Payment, domain.MappingKind, error) {
	now := s.deps.Clock.Now()
	description := fmt.Sprintf("JurisPolicial - Plano %s", plan.Name)
	callback := s.successURL(in)
	attemptKey := uuid.NewString()

	if plan.Recurring {
		payment, err := s.gw.CreateSubscription(ctx, gateway.SubscriptionRequest{
			CustomerID:        customerID,
			PlanType:          plan.Type,
			BillingMethod:     in.BillingMethod,
			Amount:            plan.Price,
			Cycle:             plan.Cycle,
			NextDueDate:       now,
			Description:       description,
			ExternalReference: in.UserID,
			CallbackURL:       callback,
			IdempotencyKey:    attemptKey,
		})
		return payment, domain.MappingSubscription, err
	}

	payment, err := s.gw.CreateCharge(ctx, gateway.ChargeRequest{
		CustomerID:        customerID,
		PlanType:          plan.Type,
		BillingMethod:     in.BillingMethod,
		Amount:            plan.Price,
		DueDate:           now,
		Description:       description,
		ExternalReference: in.UserID,
		CallbackURL:       callback,
		IdempotencyKey:    attemptKey,
	})
	return payment, domain.MappingCharge, err
}

func (s *CheckoutService) successURL(in domain.CheckoutSession) string {
	base := in.SuccessURL
	if base == "" {
		base = s.cfg.SuccessURL
	}
	if base == "" {
		return ""
	}

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("plan", string(in.PlanType))
	q.Set("user", in.UserID)
	u.RawQuery = q.Encode()
	return u.String()
}

// fillProfile дополняет данные запроса профилем пользователя.
func fillProfile(in *domain.CheckoutSession, user *domain.User) {
	if in.Email == "" {
		in.Email = user.Email
	}
	if in.Name == "" {
		in.Name = user.Name
	}
	if in.TaxID == "" {
		in.TaxID = user.TaxID
	}
}
