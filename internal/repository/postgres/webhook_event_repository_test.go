package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository/postgres"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// Тест работает с настоящим PostgreSQL и пропускается без POSTGRES_TEST_DSN.
func TestWebhookEventRepository(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := logger.NewNop()
	pool, err := postgres.NewConnection(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 2}, log)
	require.NoError(t, err)
	defer pool.Close()

	repo := postgres.NewWebhookEventRepository(pool, log)
	require.NoError(t, repo.Migrate(ctx))

	event := &domain.WebhookEvent{
		ExternalID: "evt_" + time.Now().Format("150405.000000"),
		Provider:   "asaas",
		Type:       domain.GatewayEventPaymentConfirmed,
		RawType:    "PAYMENT_CONFIRMED",
		Status:     domain.WebhookEventStatusPending,
		ResourceID: "sub_1",
		Payload:    []byte(`{"event":"PAYMENT_CONFIRMED"}`),
	}
	require.NoError(t, repo.Create(ctx, event))

	now := time.Now().UTC()
	event.Status = domain.WebhookEventStatusFailed
	event.AttemptCount = 1
	event.LastAttempt = &now
	event.ErrorMessage = "gateway timeout"
	require.NoError(t, repo.Update(ctx, event))

	stored, err := repo.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookEventStatusFailed, stored.Status)
	assert.Equal(t, "gateway timeout", stored.ErrorMessage)
	assert.Equal(t, domain.GatewayEventPaymentConfirmed, stored.Type)

	failed, err := repo.ListByStatus(ctx, domain.WebhookEventStatusFailed, 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, failed)
}
