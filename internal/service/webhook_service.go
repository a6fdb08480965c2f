package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
)

// GatewayEventHandler применяет нормализованное событие шлюза.
type GatewayEventHandler interface {
	HandleGatewayEvent(ctx context.Context, ev domain.GatewayEvent) error
}

// WebhookParser проверяет и разбирает вебхук конкретного провайдера.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*domain.GatewayEvent, error)
}

// WebhookService принимает вебхуки шлюза. Доставка как минимум однократная:
// повтор того же события отмечается как duplicate и ничего не меняет.
type WebhookService struct {
	parsers map[string]WebhookParser
	handler GatewayEventHandler
	events  repository.WebhookEventRepository
	dedupe  repository.EventDeduper
	deps    Deps
	cfg     config.WebhookConfig
}

// NewWebhookService создает сервис вебхуков. parsers индексируются именем провайдера.
func NewWebhookService(
	parsers map[string]WebhookParser,
	handler GatewayEventHandler,
	events repository.WebhookEventRepository,
	dedupe repository.EventDeduper,
	deps Deps,
	cfg config.WebhookConfig,
) *WebhookService {
	return &WebhookService{
		parsers: parsers,
		handler: handler,
		events:  events,
		dedupe:  dedupe,
		deps:    deps.withDefaults(),
		cfg:     cfg,
	}
}

// Process проверяет вебхук и обрабатывает его синхронно. Ошибка возвращается
// только для временных сбоев: шлюз повторит доставку.
func (s *WebhookService) Process(ctx context.Context, provider string, payload []byte, header http.Header) (*domain.WebhookEvent, error) {
	log := s.deps.Log

	parser, ok := s.parsers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidWebhook, provider)
	}

	ev, err := parser.ParseWebhook(ctx, payload, header)
	if err != nil {
		s.deps.Metrics.IncWebhook(provider, "rejected")
		log.Warnw("Rejected webhook", "provider", provider, "error", err)
		return nil, err
	}

	now := s.deps.Clock.Now()
	record := &domain.WebhookEvent{
		ID:         uuid.New(),
		ExternalID: ev.ID,
		Type:       ev.Type,
		RawType:    ev.RawType,
		Status:     domain.WebhookEventStatusPending,
		Payload:    payload,
		ResourceID: ev.GatewayID,
		Reference:  ev.ExternalReference,
		Provider:   provider,
		CreatedAt:  now,
	}

	key := dedupeKey(provider, ev.ID)
	first, err := s.dedupe.MarkProcessed(ctx, key)
	if err != nil {
		// переход в active монотонный, повторная обработка безопасна
		log.Warnw("Dedupe check failed, processing event", "key", key, "error", err)
		first = true
	}

	if !first {
		record.Status = domain.WebhookEventStatusDuplicate
		s.audit(ctx, record)
		s.deps.Metrics.IncWebhook(provider, record.Status)
		log.Infow("Duplicate webhook ignored", "provider", provider, "eventID", ev.ID, "gatewayID", ev.GatewayID)
		return record, nil
	}

	s.audit(ctx, record)
	err = s.dispatch(ctx, record, *ev)
	if err != nil {
		if rerr := s.dedupe.Release(ctx, key); rerr != nil {
			log.Warnw("Failed to release dedupe key", "key", key, "error", rerr)
		}
		return record, err
	}

	return record, nil
}

// RetryFailed повторяет обработку событий, завершившихся временной ошибкой.
func (s *WebhookService) RetryFailed(ctx context.Context, limit int) (int, error) {
	failed, err := s.events.ListByStatus(ctx, domain.WebhookEventStatusFailed, limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range failed {
		record := &failed[i]
		if s.cfg.MaxAttempts > 0 && record.AttemptCount >= s.cfg.MaxAttempts {
			continue
		}
		if err := ctx.Err(); err != nil {
			return retried, err
		}

		key := dedupeKey(record.Provider, record.ExternalID)
		first, err := s.dedupe.MarkProcessed(ctx, key)
		if err == nil && !first {
			// доставка шлюза обработала событие раньше
			record.Status = domain.WebhookEventStatusDuplicate
			s.update(ctx, record)
			continue
		}

		retried++
		if err := s.dispatch(ctx, record, record.GatewayEvent()); err != nil {
			if rerr := s.dedupe.Release(ctx, key); rerr != nil {
				s.deps.Log.Warnw("Failed to release dedupe key", "key", key, "error", rerr)
			}
		}
	}

	if retried > 0 {
		s.deps.Log.Infow("Failed webhook events retried", "count", retried)
	}
	return retried, nil
}

// RetryEvent повторяет обработку одного события из журнала.
func (s *WebhookService) RetryEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	record, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status == domain.WebhookEventStatusProcessed {
		return record, nil
	}

	err = s.dispatch(ctx, record, record.GatewayEvent())
	return record, err
}

// GetEvent возвращает событие журнала
func (s *WebhookService) GetEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	return s.events.Get(ctx, id)
}

// dispatch применяет событие и фиксирует итог в журнале. Постоянные ошибки
// закрывают событие: повторная доставка их не исправит.
func (s *WebhookService) dispatch(ctx context.Context, record *domain.WebhookEvent, ev domain.GatewayEvent) error {
	log := s.deps.Log

	err := s.handler.HandleGatewayEvent(ctx, ev)

	now := s.deps.Clock.Now()
	record.AttemptCount++
	record.LastAttempt = &now

	switch {
	case err == nil:
		record.Status = domain.WebhookEventStatusProcessed
		record.ProcessedAt = &now
		record.ErrorMessage = ""
	case permanentEventError(err):
		record.Status = domain.WebhookEventStatusProcessed
		record.ProcessedAt = &now
		record.ErrorMessage = err.Error()
		log.Warnw("Webhook event processed with permanent error",
			"provider", record.Provider, "eventID", record.ExternalID, "gatewayID", record.ResourceID, "error", err)
		err = nil
	default:
		record.Status = domain.WebhookEventStatusFailed
		record.ErrorMessage = err.Error()
		log.Errorw("Failed to process webhook event",
			"provider", record.Provider, "eventID", record.ExternalID, "gatewayID", record.ResourceID,
			"attempt", record.AttemptCount, "error", err)
	}

	s.update(ctx, record)
	s.deps.Metrics.IncWebhook(record.Provider, record.Status)
	return err
}

func (s *WebhookService) audit(ctx context.Context, record *domain.WebhookEvent) {
	if err := s.events.Create(ctx, record); err != nil {
		s.deps.Log.Warnw("Failed to save webhook event", "eventID", record.ExternalID, "error", err)
	}
}

func (s *WebhookService) update(ctx context.Context, record *domain.WebhookEvent) {
	if err := s.events.Update(ctx, record); err != nil {
		s.deps.Log.Warnw("Failed to update webhook event", "id", record.ID, "error", err)
	}
}

func permanentEventError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidTransition,
		domain.ErrValidation,
		domain.ErrInvalidPlanState,
		domain.ErrUnknownPlan,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func dedupeKey(provider, eventID string) string {
	return provider + ":" + eventID
}
