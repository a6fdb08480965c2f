package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

const colMappings = "pending_payment_mappings"

var _ repository.MappingRepository = (*MappingRepository)(nil)

// MappingRepository журнал маппингов платежей. _id это идентификатор шлюза.
type MappingRepository struct {
	coll *mongo.Collection
	log  *logger.Logger
}

// NewMappingRepository создает журнал маппингов MongoDB
func NewMappingRepository(db *mongo.Database, log *logger.Logger) *MappingRepository {
	return &MappingRepository{
		coll: db.Collection(colMappings),
		log:  log,
	}
}

// EnsureIndexes создает индексы для выборки ожидающих маппингов.
func (r *MappingRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create mapping indexes: %w", err)
	}
	return nil
}

// CreateMapping сохраняет маппинг
func (r *MappingRepository) CreateMapping(ctx context.Context, m domain.PendingPaymentMapping) error {
	if m.Status == "" {
		m.Status = domain.MappingPending
	}
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("mongo: create mapping: %w", err)
	}
	return nil
}

// GetMapping возвращает маппинг по идентификатору шлюза
func (r *MappingRepository) GetMapping(ctx context.Context, gatewayID string) (*domain.PendingPaymentMapping, error) {
	var m domain.PendingPaymentMapping
	if err := r.coll.FindOne(ctx, bson.M{"_id": gatewayID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NewNotFoundError("mapping", gatewayID)
		}
		return nil, fmt.Errorf("mongo: get mapping: %w", err)
	}
	return &m, nil
}

// ConfirmMapping переводит ожидающий маппинг в confirmed
func (r *MappingRepository) ConfirmMapping(ctx context.Context, gatewayID string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": gatewayID, "status": domain.MappingPending},
		bson.M{"$set": bson.M{"status": domain.MappingConfirmed, "confirmedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("mongo: confirm mapping: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// уже подтвержден или отсутствует
	_, err = r.GetMapping(ctx, gatewayID)
	return err
}

// ListPending возвращает ожидающие маппинги не старше since, старые первыми
func (r *MappingRepository) ListPending(ctx context.Context, since time.Time, limit int64) ([]domain.PendingPaymentMapping, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	filter := bson.M{"status": domain.MappingPending}
	if !since.IsZero() {
		filter["createdAt"] = bson.M{"$gte": since}
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list pending mappings: %w", err)
	}

	var mappings []domain.PendingPaymentMapping
	if err := cursor.All(ctx, &mappings); err != nil {
		return nil, fmt.Errorf("mongo: decode pending mappings: %w", err)
	}
	return mappings, nil
}

// CountPendingBefore считает брошенные маппинги
func (r *MappingRepository) CountPendingBefore(ctx context.Context, before time.Time) (int64, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{
		"status":    domain.MappingPending,
		"createdAt": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, fmt.Errorf("mongo: count abandoned mappings: %w", err)
	}
	return count, nil
}

// ListPendingByUser возвращает ожидающие маппинги пользователя, новые первыми
func (r *MappingRepository) ListPendingByUser(ctx context.Context, userID string) ([]domain.PendingPaymentMapping, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := r.coll.Find(ctx, bson.M{"userId": userID, "status": domain.MappingPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list user mappings: %w", err)
	}

	var mappings []domain.PendingPaymentMapping
	if err := cursor.All(ctx, &mappings); err != nil {
		return nil, fmt.Errorf("mongo: decode user mappings: %w", err)
	}
	return mappings, nil
}
