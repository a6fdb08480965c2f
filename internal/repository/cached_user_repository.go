package repository

import (
	"context"
	"errors"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// UserCache кеш пользователей. Промах возвращает ErrCacheMiss.
type UserCache interface {
	CacheUser(ctx context.Context, user *domain.User) error
	GetCachedUser(ctx context.Context, userID string) (*domain.User, error)
	InvalidateUser(ctx context.Context, userID string) error
}

// CachedUserRepository реализует UserRepository с кешированием.
// Ошибки кеша не прерывают операцию.
type CachedUserRepository struct {
	repo  UserRepository
	cache UserCache
	log   *logger.Logger
}

// NewCachedUserRepository создает новый репозиторий с кешированием
func NewCachedUserRepository(repo UserRepository, cache UserCache, log *logger.Logger) *CachedUserRepository {
	return &CachedUserRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetUser получает пользователя (сначала из кеша, потом из БД)
func (r *CachedUserRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	cached, err := r.cache.GetCachedUser(ctx, id)
	if err == nil {
		r.log.Debugw("User found in cache", "userID", id)
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.log.Warnw("Error getting user from cache", "error", err, "userID", id)
	}

	user, err := r.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheUser(ctx, user); err != nil {
		r.log.Warnw("Failed to cache user after fetching", "error", err, "userID", id)
	}

	return user, nil
}

// UpdatePlan обновляет план в БД и сбрасывает кеш при любом исходе:
// следующее чтение всегда приходит из БД.
func (r *CachedUserRepository) UpdatePlan(ctx context.Context, userID string, expectedVersion int64, rec domain.PlanRecord) (*domain.User, error) {
	user, err := r.repo.UpdatePlan(ctx, userID, expectedVersion, rec)
	r.invalidate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SaveUser сохраняет пользователя и сбрасывает кеш
func (r *CachedUserRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if err := r.repo.SaveUser(ctx, user); err != nil {
		return err
	}
	r.invalidate(ctx, user.ID)
	return nil
}

func (r *CachedUserRepository) invalidate(ctx context.Context, userID string) {
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate user cache", "error", err, "userID", userID)
	}
}
