package repository

import (
	"context"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/google/uuid"
)

// UserRepository хранилище пользователей с вложенным планом.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	// UpdatePlan записывает план, только если сохраненная версия равна expectedVersion.
	// Иначе возвращает domain.ErrVersionConflict. Версия плана увеличивается на единицу.
	UpdatePlan(ctx context.Context, userID string, expectedVersion int64, rec domain.PlanRecord) (*domain.User, error)
	SaveUser(ctx context.Context, user *domain.User) error
}

// MappingRepository журнал ожидающих платежей.
type MappingRepository interface {
	CreateMapping(ctx context.Context, m domain.PendingPaymentMapping) error
	GetMapping(ctx context.Context, gatewayID string) (*domain.PendingPaymentMapping, error)
	// ConfirmMapping идемпотентен: повторное подтверждение не меняет запись.
	ConfirmMapping(ctx context.Context, gatewayID string, at time.Time) error
	// ListPending возвращает ожидающие маппинги, созданные не раньше since, старые первыми.
	// Нулевой since снимает нижнюю границу.
	ListPending(ctx context.Context, since time.Time, limit int64) ([]domain.PendingPaymentMapping, error)
	// CountPendingBefore считает ожидающие маппинги, созданные раньше before.
	CountPendingBefore(ctx context.Context, before time.Time) (int64, error)
	// ListPendingByUser возвращает ожидающие маппинги пользователя, новые первыми.
	ListPendingByUser(ctx context.Context, userID string) ([]domain.PendingPaymentMapping, error)
}

// WebhookEventRepository журнал входящих вебхуков
type WebhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
	Get(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	Update(ctx context.Context, event *domain.WebhookEvent) error
	ListByStatus(ctx context.Context, status domain.WebhookEventStatus, limit int) ([]domain.WebhookEvent, error)
}

// EventDeduper отмечает обработанные события шлюза.
type EventDeduper interface {
	// MarkProcessed возвращает true, если событие встречено впервые.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	// Release снимает отметку, чтобы повторная доставка была обработана.
	Release(ctx context.Context, eventID string) error
}

// NextPlanRecord подготавливает запись плана к условному обновлению.
func NextPlanRecord(rec domain.PlanRecord, expectedVersion int64) domain.PlanRecord {
	rec.Version = expectedVersion + 1
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return rec
}
