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

const colUsers = "users"

var _ repository.UserRepository = (*UserRepository)(nil)

// UserRepository хранит пользователей в коллекции users. План вложен в документ,
// поэтому условное обновление плана атомарно на уровне документа.
type UserRepository struct {
	coll *mongo.Collection
	log  *logger.Logger
}

// NewUserRepository создает репозиторий пользователей MongoDB
func NewUserRepository(db *mongo.Database, log *logger.Logger) *UserRepository {
	return &UserRepository{
		coll: db.Collection(colUsers),
		log:  log,
	}
}

// GetUser возвращает пользователя по ID
func (r *UserRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NewNotFoundError("user", id)
		}
		return nil, fmt.Errorf("mongo: get user: %w", err)
	}
	return &user, nil
}

// UpdatePlan заменяет план, если plan.version равна expectedVersion.
// Для expectedVersion=0 подходит и документ без плана.
func (r *UserRepository) UpdatePlan(ctx context.Context, userID string, expectedVersion int64, rec domain.PlanRecord) (*domain.User, error) {
	next := repository.NextPlanRecord(rec, expectedVersion)

	filter := bson.M{"_id": userID, "plan.version": expectedVersion}
	if expectedVersion == 0 {
		filter = bson.M{
			"_id": userID,
			"$or": bson.A{
				bson.M{"plan": nil},
				bson.M{"plan.version": int64(0)},
			},
		}
	}
	update := bson.M{"$set": bson.M{"plan": next, "updatedAt": next.UpdatedAt}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user domain.User
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongo: update plan: %w", err)
	}

	// фильтр не совпал: пользователя нет или версия уже другая
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return nil, fmt.Errorf("mongo: update plan: %w", err)
	}
	if n == 0 {
		return nil, domain.NewNotFoundError("user", userID)
	}

	r.log.Debugw("Plan version conflict", "userID", userID, "expected", expectedVersion)
	return nil, domain.ErrVersionConflict
}

// SaveUser создает или заменяет документ пользователя
func (r *UserRepository) SaveUser(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"_id": user.ID}, user, opts); err != nil {
		return fmt.Errorf("mongo: save user: %w", err)
	}
	return nil
}
