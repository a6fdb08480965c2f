package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_events (
	id            UUID PRIMARY KEY,
	external_id   TEXT NOT NULL,
	provider      TEXT NOT NULL,
	type          TEXT NOT NULL,
	raw_type      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	resource_id   TEXT NOT NULL DEFAULT '',
	reference     TEXT NOT NULL DEFAULT '',
	payload       BYTEA,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_attempt  TIMESTAMPTZ,
	processed_at  TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS webhook_events_status_idx ON webhook_events (status, created_at);
CREATE INDEX IF NOT EXISTS webhook_events_external_idx ON webhook_events (provider, external_id);
`

const selectColumns = `
	id, external_id, provider, type, raw_type, status, resource_id, reference, payload,
	attempt_count, last_attempt, processed_at, error_message, created_at, updated_at
`

var _ repository.WebhookEventRepository = (*WebhookEventRepository)(nil)

// WebhookEventRepository журнал вебхуков в PostgreSQL
type WebhookEventRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewWebhookEventRepository создает журнал вебхуков
func NewWebhookEventRepository(db *pgxpool.Pool, log *logger.Logger) *WebhookEventRepository {
	return &WebhookEventRepository{
		db:  db,
		log: log,
	}
}

// Migrate создает таблицу журнала, если ее нет
func (r *WebhookEventRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate webhook_events: %w", err)
	}
	return nil
}

// Create сохраняет событие
func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	query := `
		INSERT INTO webhook_events (
			id, external_id, provider, type, raw_type, status, resource_id, reference, payload,
			attempt_count, last_attempt, processed_at, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.ExternalID,
		event.Provider,
		string(event.Type),
		event.RawType,
		string(event.Status),
		event.ResourceID,
		event.Reference,
		event.Payload,
		event.AttemptCount,
		event.LastAttempt,
		event.ProcessedAt,
		event.ErrorMessage,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create webhook event: %w", err)
	}

	r.log.Debugw("Webhook event stored", "id", event.ID, "externalID", event.ExternalID)
	return nil
}

// Get возвращает событие по ID
func (r *WebhookEventRepository) Get(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + selectColumns + ` FROM webhook_events WHERE id = $1`

	event, err := scanEvent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("webhook event", id.String())
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return event, nil
}

// Update обновляет статус и счетчики события
func (r *WebhookEventRepository) Update(ctx context.Context, event *domain.WebhookEvent) error {
	event.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE webhook_events
		SET status = $2, attempt_count = $3, last_attempt = $4, processed_at = $5,
			error_message = $6, updated_at = $7
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		event.ID,
		string(event.Status),
		event.AttemptCount,
		event.LastAttempt,
		event.ProcessedAt,
		event.ErrorMessage,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("webhook event", event.ID.String())
	}

	return nil
}

// ListByStatus возвращает события в статусе, старые первыми
func (r *WebhookEventRepository) ListByStatus(ctx context.Context, status domain.WebhookEventStatus, limit int) ([]domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + selectColumns + ` FROM webhook_events WHERE status = $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := r.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	return events, nil
}

func scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var (
		event     domain.WebhookEvent
		eventType string
		status    string
	)

	err := row.Scan(
		&event.ID,
		&event.ExternalID,
		&event.Provider,
		&eventType,
		&event.RawType,
		&status,
		&event.ResourceID,
		&event.Reference,
		&event.Payload,
		&event.AttemptCount,
		&event.LastAttempt,
		&event.ProcessedAt,
		&event.ErrorMessage,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Type = domain.GatewayEventType(eventType)
	event.Status = domain.WebhookEventStatus(status)
	return &event, nil
}
