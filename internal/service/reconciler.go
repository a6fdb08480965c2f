package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/kafka"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/subscription"
)

// Источники подтверждения оплаты
const (
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
	SourceAdmin   = "admin"
)

// MessageAwaitingConfirmation показывается, когда опрос исчерпан без подтверждения.
const MessageAwaitingConfirmation = "Aguardando confirmação do pagamento. Você receberá um e-mail assim que ele for confirmado; se não receber, entre em contato com o suporte."

// ErrEventUnresolved подтверждение пришло раньше, чем стало известно, к какому пользователю оно относится.
var ErrEventUnresolved = errors.New("gateway event cannot be matched to a user yet")

// PollOptions параметры опроса. Нулевые значения берутся из конфигурации.
type PollOptions struct {
	Interval time.Duration
	Attempts int
}

// AwaitResult итог опроса. Pending означает, что оплата еще не подтверждена.
type AwaitResult struct {
	Active   bool                          `json:"active"`
	Pending  bool                          `json:"pending"`
	Attempts int                           `json:"attempts"`
	Message  string                        `json:"message,omitempty"`
	Plan     *domain.PlanRecord            `json:"plan,omitempty"`
	Timeout  *domain.ReconciliationTimeout `json:"-"`
}

// RefreshResult итог принудительной сверки со шлюзом.
type RefreshResult struct {
	GatewayStatus gateway.Status     `json:"gatewayStatus"`
	GatewayID     string             `json:"gatewayId"`
	Activated     bool               `json:"activated"`
	Plan          *domain.PlanRecord `json:"plan,omitempty"`
}

// SweepReport итог фоновой сверки ожидающих маппингов.
type SweepReport struct {
	Checked   int `json:"checked"`
	Activated int `json:"activated"`
	Abandoned int `json:"abandoned"`
	Failed    int `json:"failed"`
}

// Reconciler приводит план пользователя к статусу шлюза. Вебхук, опрос и
// фоновая сверка сходятся к одному монотонному переходу в active.
type Reconciler struct {
	deps   Deps
	gw     gateway.Gateway
	writer planWriter
	cfg    config.ReconciliationConfig
}

// NewReconciler создает сервис сверки
func NewReconciler(deps Deps, gw gateway.Gateway, cfg config.ReconciliationConfig) *Reconciler {
	deps = deps.withDefaults()
	return &Reconciler{
		deps:   deps,
		gw:     gw,
		writer: newPlanWriter(deps, cfg.CASRetries),
		cfg:    cfg,
	}
}

// HandleGatewayEvent применяет нормализованное событие шлюза.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, ev domain.GatewayEvent) error {
	log := r.deps.Log

	switch ev.Type {
	case domain.GatewayEventPaymentConfirmed:
		_, err := r.confirm(ctx, ev, SourceWebhook)
		return err
	case domain.GatewayEventPaymentRefunded:
		return r.markRefunded(ctx, ev)
	case domain.GatewayEventPaymentFailed:
		log.Warnw("Gateway reported failed payment", "gatewayID", ev.GatewayID, "event", ev.RawType, "userID", ev.ExternalReference)
		return nil
	case domain.GatewayEventSubscriptionCanceled:
		log.Infow("Gateway reported subscription cancellation", "gatewayID", ev.GatewayID, "event", ev.RawType)
		return nil
	default:
		log.Debugw("Ignoring gateway event", "event", ev.RawType, "gatewayID", ev.GatewayID)
		return nil
	}
}

// MarkActive подтверждает оплату по идентификатору шлюза. Повторный вызов ничего не меняет.
func (r *Reconciler) MarkActive(ctx context.Context, gatewayID string) (*domain.User, error) {
	m, err := r.deps.Mappings.GetMapping(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	write, err := r.activateMapping(ctx, *m, SourceWebhook)
	if err != nil {
		return nil, err
	}
	return write.user, nil
}

func (r *Reconciler) confirm(ctx context.Context, ev domain.GatewayEvent, source string) (*domain.User, error) {
	if ev.GatewayID == "" {
		// счет вне подписки и без разового платежа: сопоставить не с чем
		r.deps.Log.Infow("Ignoring confirmation without gateway object", "event", ev.RawType, "eventID", ev.ID)
		return nil, nil
	}

	m, err := r.deps.Mappings.GetMapping(ctx, ev.GatewayID)
	if err == nil {
		write, err := r.activateMapping(ctx, *m, source)
		return write.user, err
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if ev.ExternalReference == "" {
		return nil, fmt.Errorf("%w: no mapping for %s", ErrEventUnresolved, ev.GatewayID)
	}

	r.deps.Log.Infow("Mapping not found, resolving confirmation by external reference",
		"gatewayID", ev.GatewayID, "userID", ev.ExternalReference)
	write, err := r.activateByReference(ctx, ev, source)
	return write.user, err
}

// activateMapping продвигает план пользователя из маппинга к active и закрывает маппинг.
func (r *Reconciler) activateMapping(ctx context.Context, m domain.PendingPaymentMapping, source string) (planWrite, error) {
	in := subscription.Activation{
		Plan:       m.PlanType,
		Kind:       m.Kind,
		GatewayID:  m.GatewayID,
		CustomerID: m.CustomerID,
		Now:        r.deps.Clock.Now(),
	}

	write, err := r.writer.apply(ctx, m.UserID, "activate", func(_ *domain.User, current domain.PlanState) (domain.PlanState, bool, error) {
		return subscription.Activate(current, in)
	})

	if err == nil || errors.Is(err, domain.ErrInvalidTransition) {
		if cerr := r.deps.Mappings.ConfirmMapping(ctx, m.GatewayID, in.Now); cerr != nil {
			r.deps.Log.Warnw("Failed to confirm payment mapping", "gatewayID", m.GatewayID, "error", cerr)
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			r.deps.Log.Warnw("Ignoring confirmation for a plan that moved on", "userID", m.UserID, "gatewayID", m.GatewayID, "error", err)
		}
		return planWrite{}, err
	}

	r.afterActivation(ctx, m.UserID, m.GatewayID, write, source)
	return write, nil
}

// activateByReference подтверждает оплату без маппинга, если провизорная запись
// пользователя указывает на тот же объект шлюза.
func (r *Reconciler) activateByReference(ctx context.Context, ev domain.GatewayEvent, source string) (planWrite, error) {
	userID := ev.ExternalReference

	write, err := r.writer.apply(ctx, userID, "activate", func(_ *domain.User, current domain.PlanState) (domain.PlanState, bool, error) {
		trial, ok := current.(domain.Trial)
		if !ok {
			if current != nil && current.Status() == domain.StatusActive {
				return current, false, nil
			}
			return current, false, fmt.Errorf("%w: no provisional plan for %s", ErrEventUnresolved, ev.GatewayID)
		}

		kind := domain.MappingCharge
		if trial.Ref.SubscriptionID != "" {
			kind = domain.MappingSubscription
		}
		return subscription.Activate(current, subscription.Activation{
			Plan:       trial.Plan,
			Kind:       kind,
			GatewayID:  ev.GatewayID,
			CustomerID: trial.Ref.CustomerID,
			Now:        r.deps.Clock.Now(),
		})
	})
	if err != nil {
		return planWrite{}, err
	}

	r.afterActivation(ctx, userID, ev.GatewayID, write, source)
	return write, nil
}

func (r *Reconciler) afterActivation(ctx context.Context, userID, gatewayID string, write planWrite, source string) {
	if !write.changed {
		r.deps.Log.Debugw("Plan already active, confirmation is a no-op", "userID", userID, "gatewayID", gatewayID)
		return
	}

	r.deps.Metrics.IncActivation(source)
	r.deps.publish(ctx, kafka.TopicPlanActivated, kafka.PlanEvent{
		UserID:    userID,
		PlanType:  write.state.PlanType(),
		Status:    write.state.Status(),
		GatewayID: gatewayID,
		Provider:  r.gw.Name(),
	})
	r.deps.Log.Infow("Plan activated", "userID", userID, "plan", write.state.PlanType(), "gatewayID", gatewayID, "source", source)
}

func (r *Reconciler) markRefunded(ctx context.Context, ev domain.GatewayEvent) error {
	m, err := r.deps.Mappings.GetMapping(ctx, ev.GatewayID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.deps.Log.Debugw("Refund for unknown gateway object", "gatewayID", ev.GatewayID)
			return nil
		}
		return err
	}

	write, err := r.writer.apply(ctx, m.UserID, "refund", func(_ *domain.User, current domain.PlanState) (domain.PlanState, bool, error) {
		canceled, ok := current.(domain.Canceled)
		if !ok || canceled.Refunded {
			return current, false, nil
		}
		canceled.Refunded = true
		return canceled, true, nil
	})
	if err != nil {
		return err
	}

	if write.changed {
		r.deps.Log.Infow("Refund confirmed by gateway", "userID", m.UserID, "gatewayID", ev.GatewayID)
	}
	return nil
}

// AwaitActivation перечитывает план с фиксированным интервалом, пока он не станет
// active или не кончатся попытки. Исчерпание попыток не ошибка: результат Pending.
// Отмена ctx прерывает ожидание.
func (r *Reconciler) AwaitActivation(ctx context.Context, userID string, opts PollOptions) (AwaitResult, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = r.cfg.PollInterval
	}
	if r.cfg.MaxPollInterval > 0 && interval > r.cfg.MaxPollInterval {
		interval = r.cfg.MaxPollInterval
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = r.cfg.PollAttempts
	}
	if r.cfg.MaxPollAttempts > 0 && attempts > r.cfg.MaxPollAttempts {
		attempts = r.cfg.MaxPollAttempts
	}
	attempts = max(attempts, 1)

	var last *domain.PlanRecord
	for attempt := 1; ; attempt++ {
		user, err := r.deps.Users.GetUser(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return AwaitResult{}, err
		case err != nil:
			r.deps.Log.Warnw("Failed to read plan while polling", "userID", userID, "attempt", attempt, "error", err)
		default:
			state, err := user.PlanState()
			if err != nil {
				return AwaitResult{}, err
			}
			last = user.Plan
			if state != nil && state.Status() == domain.StatusActive {
				r.deps.Metrics.ObservePollAttempts(attempt, true)
				return AwaitResult{Active: true, Attempts: attempt, Plan: last}, nil
			}
		}

		if attempt >= attempts {
			break
		}
		if ctx.Err() != nil {
			return AwaitResult{Pending: true, Attempts: attempt, Message: MessageAwaitingConfirmation, Plan: last}, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return AwaitResult{Pending: true, Attempts: attempt, Message: MessageAwaitingConfirmation, Plan: last}, ctx.Err()
		case <-r.deps.Clock.After(interval):
		}
	}

	r.deps.Metrics.ObservePollAttempts(attempts, false)
	r.deps.Log.Infow("Payment not confirmed after polling", "userID", userID, "attempts", attempts)

	return AwaitResult{
		Pending:  true,
		Attempts: attempts,
		Message:  MessageAwaitingConfirmation,
		Plan:     last,
		Timeout:  &domain.ReconciliationTimeout{UserID: userID, Attempts: attempts},
	}, nil
}

// RefreshFromGateway запрашивает статус в шлюзе и подтверждает план, если оплата прошла.
func (r *Reconciler) RefreshFromGateway(ctx context.Context, userID string) (*RefreshResult, error) {
	user, err := r.deps.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	state, err := user.PlanState()
	if err != nil {
		return nil, err
	}

	if state != nil && state.GatewayRef().SubscriptionID != "" {
		return r.refreshSubscription(ctx, user, state)
	}

	mappings, err := r.deps.Mappings.ListPendingByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, domain.NewNotFoundError("gateway subscription", userID)
	}

	var result *RefreshResult
	for _, m := range mappings {
		status, err := r.gatewayStatus(ctx, m)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = &RefreshResult{GatewayStatus: status, GatewayID: m.GatewayID, Plan: user.Plan}
		}
		if status != gateway.StatusConfirmed {
			continue
		}

		write, err := r.activateMapping(ctx, m, SourceAdmin)
		if err != nil {
			return nil, err
		}
		return &RefreshResult{GatewayStatus: status, GatewayID: m.GatewayID, Activated: write.changed, Plan: write.user.Plan}, nil
	}

	return result, nil
}

func (r *Reconciler) refreshSubscription(ctx context.Context, user *domain.User, state domain.PlanState) (*RefreshResult, error) {
	ref := state.GatewayRef()

	status, err := r.gw.GetSubscriptionStatus(ctx, ref.SubscriptionID)
	if err != nil {
		return nil, err
	}
	result := &RefreshResult{GatewayStatus: status, GatewayID: ref.SubscriptionID, Plan: user.Plan}
	if status != gateway.StatusConfirmed {
		return result, nil
	}

	m, err := r.deps.Mappings.GetMapping(ctx, ref.SubscriptionID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		// запись до появления маппингов
		m = &domain.PendingPaymentMapping{
			GatewayID:  ref.SubscriptionID,
			Kind:       domain.MappingSubscription,
			UserID:     user.ID,
			PlanType:   state.PlanType(),
			CustomerID: ref.CustomerID,
		}
	default:
		return nil, err
	}

	write, err := r.activateMapping(ctx, *m, SourceAdmin)
	if err != nil {
		return nil, err
	}
	result.Activated = write.changed
	result.Plan = write.user.Plan
	return result, nil
}

// SweepPending опрашивает шлюз по ожидающим маппингам внутри окна ожидания.
// Маппинги старше окна считаются брошенными: они только подсчитываются и не
// занимают место в пачке.
func (r *Reconciler) SweepPending(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	var since time.Time
	if r.cfg.PendingAbandonAfter > 0 {
		since = r.deps.Clock.Now().Add(-r.cfg.PendingAbandonAfter)

		abandoned, err := r.deps.Mappings.CountPendingBefore(ctx, since)
		if err != nil {
			return report, err
		}
		report.Abandoned = int(abandoned)
		report.Checked = int(abandoned)
	}

	pending, err := r.deps.Mappings.ListPending(ctx, since, r.cfg.SweepBatch)
	if err != nil {
		return report, err
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		status, err := r.gatewayStatus(ctx, m)
		if err != nil {
			report.Failed++
			r.deps.Log.Warnw("Failed to query gateway status", "gatewayID", m.GatewayID, "error", err)
			continue
		}
		if status != gateway.StatusConfirmed {
			continue
		}

		write, err := r.activateMapping(ctx, m, SourceSweep)
		switch {
		case err == nil && write.changed:
			report.Activated++
		case err != nil && !errors.Is(err, domain.ErrInvalidTransition):
			report.Failed++
			r.deps.Log.Warnw("Failed to activate swept payment", "gatewayID", m.GatewayID, "userID", m.UserID, "error", err)
		}
	}

	r.deps.Metrics.SetPendingMappings(report.Checked-report.Activated, report.Abandoned)
	r.deps.Log.Infow("Pending payments swept",
		"checked", report.Checked, "activated", report.Activated, "abandoned", report.Abandoned, "failed", report.Failed)

	return report, nil
}

func (r *Reconciler) gatewayStatus(ctx context.Context, m domain.PendingPaymentMapping) (gateway.Status, error) {
	if m.Kind == domain.MappingCharge {
		return r.gw.GetChargeStatus(ctx, m.GatewayID)
	}
	return r.gw.GetSubscriptionStatus(ctx, m.GatewayID)
}
