package subscription

import (
	"fmt"
	"slices"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

// validTransitions допустимые переходы статуса.
// Переход в trial означает новый checkout, а не откат подтвержденного плана.
var validTransitions = map[domain.PlanStatus][]domain.PlanStatus{
	domain.StatusInactive:       {domain.StatusTrial, domain.StatusActive},
	domain.StatusTrial:          {domain.StatusTrial, domain.StatusActive, domain.StatusCanceled, domain.StatusActiveUntilEnd},
	domain.StatusActive:         {domain.StatusTrial, domain.StatusCanceled, domain.StatusActiveUntilEnd},
	domain.StatusCanceled:       {domain.StatusTrial},
	domain.StatusActiveUntilEnd: {domain.StatusTrial, domain.StatusCanceled},
}

// CanTransition проверяет переход по таблице. Отсутствующий план ведет себя как inactive.
func CanTransition(from, to domain.PlanStatus) bool {
	if from == "" {
		from = domain.StatusInactive
	}
	return slices.Contains(validTransitions[from], to)
}

// Activation подтверждение оплаты от шлюза.
type Activation struct {
	Plan       domain.PlanType
	Kind       domain.MappingKind
	GatewayID  string
	CustomerID string
	Now        time.Time
}

// Activate продвигает план к active. Переход монотонный:
// changed=false, если план уже активен, и ErrInvalidTransition, если план
// отменен или подтверждение относится к другой подписке.
func Activate(current domain.PlanState, in Activation) (next domain.PlanState, changed bool, err error) {
	switch s := current.(type) {
	case domain.Active, domain.ManualActive:
		return current, false, nil

	case domain.Canceled, domain.ActiveUntilEnd:
		return current, false, fmt.Errorf("%w: plan is %s", domain.ErrInvalidTransition, current.Status())

	case domain.Trial:
		if in.Kind == domain.MappingSubscription && s.Ref.SubscriptionID != "" && s.Ref.SubscriptionID != in.GatewayID {
			return current, false, fmt.Errorf("%w: confirmation for %s, plan tracks %s",
				domain.ErrInvalidTransition, in.GatewayID, s.Ref.SubscriptionID)
		}
		plan, dates, ref := s.Plan, s.Dates, s.Ref
		if in.Plan != "" && in.Plan != s.Plan {
			// оплачен ранее начатый checkout другого плана
			plan = in.Plan
			dates = domain.Period{Start: in.Now, End: in.Now.Add(domain.PlanDurationFor(in.Plan))}
			ref = domain.GatewayRef{CustomerID: s.Ref.CustomerID}
		}
		active, err := domain.NewActive(plan, dates, mergeRef(ref, in))
		if err != nil {
			return current, false, err
		}
		return active, true, nil

	default:
		// Провизорная запись потеряна: период считается от подтверждения.
		dates := domain.Period{Start: in.Now, End: in.Now.Add(domain.PlanDurationFor(in.Plan))}
		active, err := domain.NewActive(in.Plan, dates, mergeRef(domain.GatewayRef{}, in))
		if err != nil {
			return current, false, err
		}
		return active, true, nil
	}
}

// mergeRef сохраняет уже известные идентификаторы и дополняет недостающие.
func mergeRef(ref domain.GatewayRef, in Activation) domain.GatewayRef {
	if ref.SubscriptionID == "" && in.Kind == domain.MappingSubscription {
		ref.SubscriptionID = in.GatewayID
	}
	if ref.CustomerID == "" {
		ref.CustomerID = in.CustomerID
	}
	return ref
}

// Cancel строит состояние после отмены в шлюзе.
func Cancel(current domain.PlanState, now time.Time, refunded bool) (domain.PlanState, bool, error) {
	if current == nil || !CanTransition(current.Status(), domain.StatusCanceled) {
		status := domain.StatusInactive
		if current != nil {
			status = current.Status()
		}
		return current, false, fmt.Errorf("%w: cannot cancel %s plan", domain.ErrInvalidTransition, status)
	}

	dates := current.Period()
	eligible := RefundEligible(dates.Start, now)
	if eligible {
		return domain.Canceled{
			Plan:       current.PlanType(),
			Dates:      dates,
			Ref:        current.GatewayRef(),
			CanceledAt: now,
			Refunded:   refunded,
		}, true, nil
	}

	return domain.ActiveUntilEnd{
		Plan:       current.PlanType(),
		Dates:      dates,
		Ref:        current.GatewayRef(),
		CanceledAt: now,
	}, false, nil
}
