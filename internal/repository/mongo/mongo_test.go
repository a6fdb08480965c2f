package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository/mongo"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// Тесты работают с настоящим MongoDB и пропускаются без MONGO_TEST_URI.
func testDatabase(t *testing.T) (*mongo.UserRepository, *mongo.MappingRepository) {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := logger.NewNop()
	client, err := mongo.New(ctx, config.MongoConfig{
		URI:            uri,
		ConnectTimeout: 5 * time.Second,
		MaxPoolSize:    5,
		RetryAttempts:  1,
	}, log)
	require.NoError(t, err)

	db := client.Database("billing_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	mappings := mongo.NewMappingRepository(db, log)
	require.NoError(t, mappings.EnsureIndexes(ctx))

	return mongo.NewUserRepository(db, log), mappings
}

func TestUserRepository_UpdatePlanIsConditional(t *testing.T) {
	users, _ := testDatabase(t)
	ctx := context.Background()

	require.NoError(t, users.SaveUser(ctx, &domain.User{ID: "u1", Email: "u1@example.com", Role: domain.RoleMember}))

	user, err := users.UpdatePlan(ctx, "u1", 0, domain.PlanRecord{PlanType: domain.PlanMonthly, Status: domain.StatusTrial})
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.PlanVersion())

	_, err = users.UpdatePlan(ctx, "u1", 0, domain.PlanRecord{Status: domain.StatusActive})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = users.UpdatePlan(ctx, "ghost", 0, domain.PlanRecord{Status: domain.StatusActive})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := users.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrial, stored.Plan.Status)
}

func TestMappingRepository_Lifecycle(t *testing.T) {
	_, mappings := testDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	m := domain.PendingPaymentMapping{GatewayID: "sub_1", Kind: domain.MappingSubscription, UserID: "u1", PlanType: domain.PlanMonthly, CreatedAt: now}
	require.NoError(t, mappings.CreateMapping(ctx, m))
	assert.ErrorIs(t, mappings.CreateMapping(ctx, m), repository.ErrDuplicate)

	pending, err := mappings.ListPending(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, mappings.ConfirmMapping(ctx, "sub_1", now))
	require.NoError(t, mappings.ConfirmMapping(ctx, "sub_1", now))
	assert.ErrorIs(t, mappings.ConfirmMapping(ctx, "sub_x", now), domain.ErrNotFound)

	pending, err = mappings.ListPending(ctx, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMappingRepository_AbandonedWindow(t *testing.T) {
	_, mappings := testDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	since := now.Add(-72 * time.Hour)

	require.NoError(t, mappings.CreateMapping(ctx, domain.PendingPaymentMapping{GatewayID: "old", UserID: "u1", CreatedAt: since.Add(-time.Hour)}))
	require.NoError(t, mappings.CreateMapping(ctx, domain.PendingPaymentMapping{GatewayID: "fresh", UserID: "u2", CreatedAt: now}))

	pending, err := mappings.ListPending(ctx, since, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].GatewayID)

	abandoned, err := mappings.CountPendingBefore(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), abandoned)
}
