package repository

import (
	"context"
	"sync"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// InMemoryUserRepository реализация репозитория пользователей в памяти
type InMemoryUserRepository struct {
	users map[string]domain.User
	mutex sync.RWMutex
	log   *logger.Logger
}

// NewInMemoryUserRepository создает новый репозиторий пользователей в памяти
func NewInMemoryUserRepository(log *logger.Logger) *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users: make(map[string]domain.User),
		log:   log,
	}
}

// GetUser возвращает пользователя по ID
func (r *InMemoryUserRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, domain.NewNotFoundError("user", id)
	}

	return cloneUser(user), nil
}

// UpdatePlan условно обновляет план пользователя
func (r *InMemoryUserRepository) UpdatePlan(ctx context.Context, userID string, expectedVersion int64, rec domain.PlanRecord) (*domain.User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	user, exists := r.users[userID]
	if !exists {
		return nil, domain.NewNotFoundError("user", userID)
	}

	if current := user.PlanVersion(); current != expectedVersion {
		r.log.Debugw("Plan version conflict", "userID", userID, "expected", expectedVersion, "current", current)
		return nil, domain.ErrVersionConflict
	}

	next := NextPlanRecord(rec, expectedVersion)
	user.Plan = &next
	user.UpdatedAt = next.UpdatedAt
	r.users[userID] = user

	return cloneUser(user), nil
}

// SaveUser создает или перезаписывает пользователя
func (r *InMemoryUserRepository) SaveUser(ctx context.Context, user *domain.User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored := *cloneUser(*user)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	r.users[user.ID] = stored

	return nil
}

func cloneUser(u domain.User) *domain.User {
	if u.Plan != nil {
		plan := *u.Plan
		u.Plan = &plan
	}
	return &u
}
