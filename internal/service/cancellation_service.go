package service

import (
	"context"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/kafka"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/subscription"
)

// WarningManualRefund показывается, когда отмена прошла, а возврат не удался.
const WarningManualRefund = "Assinatura cancelada. Não foi possível processar o reembolso automaticamente; nossa equipe fará o estorno manualmente."

// CancellationService отменяет подписку и применяет правило окна возврата.
type CancellationService struct {
	deps   Deps
	gw     gateway.Gateway
	writer planWriter
}

// NewCancellationService создает сервис отмены
func NewCancellationService(deps Deps, gw gateway.Gateway, casRetries uint64) *CancellationService {
	deps = deps.withDefaults()
	return &CancellationService{
		deps:   deps,
		gw:     gw,
		writer: newPlanWriter(deps, casRetries),
	}
}

// Cancel отменяет подписку в шлюзе. До седьмого дня включительно план
// становится canceled с возвратом, позже active_until_end без возврата.
// Ошибка возврата не откатывает отмену и возвращается как предупреждение.
// Повторная отмена возвращает сохраненный итог без вызовов шлюза.
func (s *CancellationService) Cancel(ctx context.Context, userID string) (*domain.CancellationResult, error) {
	log := s.deps.Log

	user, err := s.deps.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	state, err := user.PlanState()
	if err != nil {
		return nil, err
	}

	if result, done := storedOutcome(state); done {
		log.Infow("Plan already canceled", "userID", userID, "status", result.Status)
		return result, nil
	}

	if state == nil || state.GatewayRef().SubscriptionID == "" {
		return nil, domain.NewNotFoundError("subscription", userID)
	}

	now := s.deps.Clock.Now()
	subscriptionID := state.GatewayRef().SubscriptionID
	start := state.Period().Start
	eligible := subscription.RefundEligible(start, now)

	if err := s.gw.CancelSubscription(ctx, subscriptionID); err != nil {
		log.Errorw("Failed to cancel gateway subscription", "userID", userID, "subscriptionID", subscriptionID, "error", err)
		return nil, err
	}

	var warning string
	refunded := false
	if eligible {
		if err := s.gw.RefundLatestPayment(ctx, subscriptionID); err != nil {
			s.deps.Metrics.IncRefundFailure()
			log.Errorw("Refund failed after cancellation, manual refund required",
				"userID", userID, "subscriptionID", subscriptionID, "error", err)
			warning = WarningManualRefund
		} else {
			refunded = true
		}
	}

	write, err := s.writer.apply(ctx, userID, "cancel", func(_ *domain.User, current domain.PlanState) (domain.PlanState, bool, error) {
		switch current.(type) {
		case domain.Canceled, domain.ActiveUntilEnd:
			return current, false, nil
		}
		next, _, err := subscription.Cancel(current, now, refunded)
		if err != nil {
			return current, false, err
		}
		return next, true, nil
	})
	if err != nil {
		log.Errorw("Gateway subscription canceled but plan write failed", "userID", userID, "subscriptionID", subscriptionID, "error", err)
		return nil, err
	}

	result := &domain.CancellationResult{
		Status:         write.state.Status(),
		RefundEligible: eligible,
		Refunded:       refunded,
		Warning:        warning,
		CanceledAt:     now,
		DaysSinceStart: subscription.DaysSinceStart(start, now),
	}
	if !write.changed {
		// параллельная отмена успела раньше
		stored, _ := storedOutcome(write.state)
		stored.Warning = warning
		result = stored
	}

	s.deps.Metrics.IncCancellation(result.Status, result.Refunded)
	s.deps.publish(ctx, kafka.TopicPlanCanceled, kafka.PlanEvent{
		UserID:    userID,
		PlanType:  write.state.PlanType(),
		Status:    result.Status,
		GatewayID: subscriptionID,
		Provider:  s.gw.Name(),
		Refunded:  result.Refunded,
	})

	log.Infow("Subscription canceled", "userID", userID, "status", result.Status,
		"refundEligible", eligible, "refunded", refunded, "daysSinceStart", result.DaysSinceStart)
	return result, nil
}

// storedOutcome восстанавливает итог уже выполненной отмены.
func storedOutcome(state domain.PlanState) (*domain.CancellationResult, bool) {
	switch v := state.(type) {
	case domain.Canceled:
		return &domain.CancellationResult{
			Status:         v.Status(),
			RefundEligible: true,
			Refunded:       v.Refunded,
			CanceledAt:     v.CanceledAt,
			DaysSinceStart: subscription.DaysSinceStart(v.Dates.Start, v.CanceledAt),
		}, true
	case domain.ActiveUntilEnd:
		return &domain.CancellationResult{
			Status:         v.Status(),
			CanceledAt:     v.CanceledAt,
			DaysSinceStart: subscription.DaysSinceStart(v.Dates.Start, v.CanceledAt),
		}, true
	}
	return nil, false
}
