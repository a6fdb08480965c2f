package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	userKeyPrefix      = "user:"
	webhookEventPrefix = "webhook_event:"
	defaultCacheTTL    = 15 * time.Minute
	defaultDedupeTTL   = 72 * time.Hour
)

// RedisCache кеш пользователей и отметки обработанных вебхуков в Redis
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	dedupeTTL time.Duration
	log       *logger.Logger
}

// NewRedisCache подключается к Redis и проверяет соединение
func NewRedisCache(cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", cfg.Addr)
	return NewRedisCacheWithClient(client, cfg.CacheTTL, cfg.DedupeTTL, log), nil
}

// NewRedisCacheWithClient оборачивает готовый клиент
func NewRedisCacheWithClient(client *redis.Client, ttl, dedupeTTL time.Duration, log *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if dedupeTTL <= 0 {
		dedupeTTL = defaultDedupeTTL
	}
	return &RedisCache{
		client:    client,
		ttl:       ttl,
		dedupeTTL: dedupeTTL,
		log:       log,
	}
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping проверяет доступность Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// CacheUser кеширует пользователя
func (r *RedisCache) CacheUser(ctx context.Context, user *domain.User) error {
	key := userKeyPrefix + user.ID

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.log.Errorw("Failed to cache user in Redis", "error", err, "userID", user.ID)
		return fmt.Errorf("failed to cache user: %w", err)
	}

	r.log.Debugw("User cached successfully", "userID", user.ID)
	return nil
}

// GetCachedUser получает пользователя из кеша. Промах возвращает ErrCacheMiss.
func (r *RedisCache) GetCachedUser(ctx context.Context, userID string) (*domain.User, error) {
	data, err := r.client.Get(ctx, userKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get user from cache: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}

	return &user, nil
}

// InvalidateUser удаляет пользователя из кеша
func (r *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, userKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate user cache: %w", err)
	}

	r.log.Debugw("User cache invalidated", "userID", userID)
	return nil
}

// MarkProcessed отмечает событие через SETNX. false означает повторную доставку.
func (r *RedisCache) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	first, err := r.client.SetNX(ctx, webhookEventPrefix+eventID, time.Now().UTC().Format(time.RFC3339), r.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return first, nil
}

// Release снимает отметку события
func (r *RedisCache) Release(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, webhookEventPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}
