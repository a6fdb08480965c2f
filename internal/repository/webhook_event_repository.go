package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/google/uuid"
)

// InMemoryWebhookEventRepository журнал вебхуков в памяти
type InMemoryWebhookEventRepository struct {
	events map[uuid.UUID]domain.WebhookEvent
	mutex  sync.RWMutex
	log    *logger.Logger
}

// NewInMemoryWebhookEventRepository создает журнал вебхуков в памяти
func NewInMemoryWebhookEventRepository(log *logger.Logger) *InMemoryWebhookEventRepository {
	return &InMemoryWebhookEventRepository{
		events: make(map[uuid.UUID]domain.WebhookEvent),
		log:    log,
	}
}

// Create сохраняет событие
func (r *InMemoryWebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if _, exists := r.events[event.ID]; exists {
		return ErrDuplicate
	}

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	r.events[event.ID] = *event

	return nil
}

// Get возвращает событие по ID
func (r *InMemoryWebhookEventRepository) Get(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	event, exists := r.events[id]
	if !exists {
		return nil, domain.NewNotFoundError("webhook event", id.String())
	}

	return &event, nil
}

// Update обновляет событие
func (r *InMemoryWebhookEventRepository) Update(ctx context.Context, event *domain.WebhookEvent) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.events[event.ID]; !exists {
		return domain.NewNotFoundError("webhook event", event.ID.String())
	}

	event.UpdatedAt = time.Now().UTC()
	r.events[event.ID] = *event

	return nil
}

// ListByStatus возвращает события в статусе, старые первыми
func (r *InMemoryWebhookEventRepository) ListByStatus(ctx context.Context, status domain.WebhookEventStatus, limit int) ([]domain.WebhookEvent, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	events := make([]domain.WebhookEvent, 0)
	for _, e := range r.events {
		if e.Status == status {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

// InMemoryDeduper отметки обработанных событий в памяти
type InMemoryDeduper struct {
	seen  map[string]struct{}
	mutex sync.Mutex
}

// NewInMemoryDeduper создает дедупликатор в памяти
func NewInMemoryDeduper() *InMemoryDeduper {
	return &InMemoryDeduper{seen: make(map[string]struct{})}
}

// MarkProcessed отмечает событие
func (d *InMemoryDeduper) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = struct{}{}
	return true, nil
}

// Release снимает отметку
func (d *InMemoryDeduper) Release(ctx context.Context, eventID string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	delete(d.seen, eventID)
	return nil
}
