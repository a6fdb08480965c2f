package service

import (
	"context"
	"fmt"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/subscription"
)

// PlanStatusView состояние плана для клиента. AccessEndsAt заполняется
// вместе с RenewalCanceled и при isActive=false означает только конец
// оплаченного периода.
type PlanStatusView struct {
	Plan                *domain.PlanRecord `json:"plan,omitempty"`
	Status              domain.PlanStatus  `json:"status"`
	IsActive            bool               `json:"isActive"`
	HasPremiumAccess    bool               `json:"hasPremiumAccess"`
	DaysUntilExpiration int                `json:"daysUntilExpiration"`
	RenewalDue          bool               `json:"renewalDue"`
	RenewalCanceled     bool               `json:"renewalCanceled"`
	AccessEndsAt        *time.Time         `json:"accessEndsAt,omitempty"`
}

// PlanService читает план пользователя и выполняет ручные исправления.
type PlanService struct {
	deps   Deps
	writer planWriter
}

// NewPlanService создает сервис плана
func NewPlanService(deps Deps, casRetries uint64) *PlanService {
	deps = deps.withDefaults()
	return &PlanService{
		deps:   deps,
		writer: newPlanWriter(deps, casRetries),
	}
}

// ListPlans возвращает каталог планов
func (s *PlanService) ListPlans() []domain.Plan {
	return domain.Plans()
}

// GetPlanStatus вычисляет доступ пользователя на текущий момент.
func (s *PlanService) GetPlanStatus(ctx context.Context, userID string) (*PlanStatusView, error) {
	user, err := s.deps.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	state, err := user.PlanState()
	if err != nil {
		return nil, err
	}

	return statusView(user, state, s.deps.Clock.Now()), nil
}

// ForceUpdatePlan перезаписывает план администратором. Запись без
// идентификаторов шлюза со статусом active становится ManualActive.
func (s *PlanService) ForceUpdatePlan(ctx context.Context, userID string, rec domain.PlanRecord) (*PlanStatusView, error) {
	if !rec.PlanType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlan, rec.PlanType)
	}
	next, err := rec.State()
	if err != nil {
		return nil, err
	}

	write, err := s.writer.apply(ctx, userID, "force_update", func(_ *domain.User, _ domain.PlanState) (domain.PlanState, bool, error) {
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Log.Warnw("Plan overwritten manually", "userID", userID, "plan", rec.PlanType, "status", next.Status())
	return statusView(write.user, write.state, s.deps.Clock.Now()), nil
}

func statusView(user *domain.User, state domain.PlanState, now time.Time) *PlanStatusView {
	view := &PlanStatusView{
		Plan:                user.Plan,
		Status:              domain.StatusInactive,
		IsActive:            subscription.IsActive(state, now),
		HasPremiumAccess:    subscription.HasPremiumAccess(user, state, now),
		DaysUntilExpiration: subscription.DaysUntilExpiration(state, now),
		RenewalDue:          subscription.RenewalDue(state, now),
	}
	if state != nil {
		view.Status = state.Status()
	}
	if end, ok := subscription.AccessEndsAt(state); ok {
		view.RenewalCanceled = true
		view.AccessEndsAt = &end
	}
	return view
}
