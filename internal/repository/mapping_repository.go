package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// InMemoryMappingRepository реализация журнала маппингов в памяти
type InMemoryMappingRepository struct {
	mappings map[string]domain.PendingPaymentMapping
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemoryMappingRepository создает новый журнал маппингов в памяти
func NewInMemoryMappingRepository(log *logger.Logger) *InMemoryMappingRepository {
	return &InMemoryMappingRepository{
		mappings: make(map[string]domain.PendingPaymentMapping),
		log:      log,
	}
}

// CreateMapping сохраняет новый маппинг
func (r *InMemoryMappingRepository) CreateMapping(ctx context.Context, m domain.PendingPaymentMapping) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.mappings[m.GatewayID]; exists {
		return ErrDuplicate
	}
	if m.Status == "" {
		m.Status = domain.MappingPending
	}
	r.mappings[m.GatewayID] = m

	r.log.Debugw("Mapping stored", "gatewayID", m.GatewayID, "userID", m.UserID)
	return nil
}

// GetMapping возвращает маппинг по идентификатору шлюза
func (r *InMemoryMappingRepository) GetMapping(ctx context.Context, gatewayID string) (*domain.PendingPaymentMapping, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	m, exists := r.mappings[gatewayID]
	if !exists {
		return nil, domain.NewNotFoundError("mapping", gatewayID)
	}

	return &m, nil
}

// ConfirmMapping помечает маппинг подтвержденным
func (r *InMemoryMappingRepository) ConfirmMapping(ctx context.Context, gatewayID string, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, exists := r.mappings[gatewayID]
	if !exists {
		return domain.NewNotFoundError("mapping", gatewayID)
	}
	if m.Status == domain.MappingConfirmed {
		return nil
	}

	m.Status = domain.MappingConfirmed
	m.ConfirmedAt = &at
	r.mappings[gatewayID] = m

	return nil
}

// ListPending возвращает ожидающие маппинги не старше since, старые первыми
func (r *InMemoryMappingRepository) ListPending(ctx context.Context, since time.Time, limit int64) ([]domain.PendingPaymentMapping, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	pending := make([]domain.PendingPaymentMapping, 0)
	for _, m := range r.mappings {
		if m.Status == domain.MappingPending && !m.CreatedAt.Before(since) {
			pending = append(pending, m)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && int64(len(pending)) > limit {
		pending = pending[:limit]
	}

	return pending, nil
}

// CountPendingBefore считает ожидающие маппинги старше before
func (r *InMemoryMappingRepository) CountPendingBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var count int64
	for _, m := range r.mappings {
		if m.Status == domain.MappingPending && m.CreatedAt.Before(before) {
			count++
		}
	}
	return count, nil
}

// ListPendingByUser возвращает ожидающие маппинги пользователя, новые первыми
func (r *InMemoryMappingRepository) ListPendingByUser(ctx context.Context, userID string) ([]domain.PendingPaymentMapping, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	pending := make([]domain.PendingPaymentMapping, 0)
	for _, m := range r.mappings {
		if m.Status == domain.MappingPending && m.UserID == userID {
			pending = append(pending, m)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})

	return pending, nil
}
