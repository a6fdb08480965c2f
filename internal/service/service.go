// Package service реализует оформление, сверку и отмену планов поверх
// хранилища пользователей и платежного шлюза.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/kafka"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/metrics"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// Clock источник времени. Подменяется в тестах.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock системное время в UTC.
func RealClock() Clock { return realClock{} }

// PlanEventPublisher публикует события жизненного цикла плана.
type PlanEventPublisher interface {
	PublishPlanEvent(ctx context.Context, topic string, event kafka.PlanEvent) error
}

// Deps общие зависимости сервисов.
type Deps struct {
	Users    repository.UserRepository
	Mappings repository.MappingRepository
	Events   PlanEventPublisher
	Metrics  metrics.BillingMetrics
	Clock    Clock
	Log      *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = RealClock()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Events == nil {
		d.Events = kafka.NewNoopProducer(d.Log)
	}
	return d
}

func (d Deps) publish(ctx context.Context, topic string, event kafka.PlanEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.Clock.Now()
	}
	if err := d.Events.PublishPlanEvent(ctx, topic, event); err != nil {
		d.Log.Warnw("Failed to publish plan event", "topic", topic, "userID", event.UserID, "error", err)
	}
}

// planMutation вычисляет новое состояние по текущему. changed=false оставляет документ без записи.
type planMutation func(user *domain.User, current domain.PlanState) (next domain.PlanState, changed bool, err error)

type planWrite struct {
	user    *domain.User
	state   domain.PlanState
	changed bool
}

// planWriter выполняет условное обновление плана: чтение, вычисление, запись
// с ожидаемой версией. При конфликте версий цикл повторяется с новым чтением.
type planWriter struct {
	users   repository.UserRepository
	retries uint64
	clock   Clock
	metrics metrics.BillingMetrics
	log     *logger.Logger
}

func newPlanWriter(d Deps, retries uint64) planWriter {
	if retries == 0 {
		retries = 5
	}
	return planWriter{
		users:   d.Users,
		retries: retries,
		clock:   d.Clock,
		metrics: d.Metrics,
		log:     d.Log,
	}
}

func (w planWriter) apply(ctx context.Context, userID, op string, mutate planMutation) (planWrite, error) {
	operation := func() (planWrite, error) {
		user, err := w.users.GetUser(ctx, userID)
		if err != nil {
			return planWrite{}, backoff.Permanent(err)
		}

		current, err := user.PlanState()
		if err != nil {
			return planWrite{}, backoff.Permanent(err)
		}

		next, changed, err := mutate(user, current)
		if err != nil {
			return planWrite{}, backoff.Permanent(err)
		}
		if !changed {
			return planWrite{user: user, state: current}, nil
		}

		rec := domain.RecordOf(next)
		rec.UpdatedAt = w.clock.Now()

		updated, err := w.users.UpdatePlan(ctx, userID, user.PlanVersion(), rec)
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				w.metrics.IncVersionConflict(op)
				w.log.Debugw("Plan changed concurrently, retrying", "userID", userID, "operation", op)
				return planWrite{}, err
			}
			return planWrite{}, backoff.Permanent(err)
		}

		return planWrite{user: updated, state: next, changed: true}, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Millisecond
	expBackoff.MaxInterval = 200 * time.Millisecond
	expBackoff.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, w.retries), ctx)
	return backoff.RetryWithData(operation, policy)
}
