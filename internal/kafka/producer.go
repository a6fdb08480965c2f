package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Топики событий плана
const (
	TopicCheckoutStarted = "plan_checkout_started"
	TopicPlanActivated   = "plan_activated"
	TopicPlanCanceled    = "plan_canceled"
)

// PlanEvent событие жизненного цикла плана для внешних потребителей.
type PlanEvent struct {
	UserID     string            `json:"userId"`
	PlanType   domain.PlanType   `json:"planType"`
	Status     domain.PlanStatus `json:"status"`
	GatewayID  string            `json:"gatewayId,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Refunded   bool              `json:"refunded,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Producer определяет интерфейс для публикации событий плана.
type Producer interface {
	// PublishPlanEvent отправляет событие. Ключ сообщения UserID,
	// поэтому события одного пользователя упорядочены внутри партиции.
	PublishPlanEvent(ctx context.Context, topic string, event PlanEvent) error
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishPlanEvent преобразует событие в JSON и отправляет в указанный топик Kafka.
func (k *kafkaProducer) PublishPlanEvent(ctx context.Context, topic string, event PlanEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(event.UserID),
		Value: messageValue,
		Time:  event.OccurredAt,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "userID", event.UserID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "userID", event.UserID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Infow("Successfully published message to Kafka", "topic", topic, "userID", event.UserID, "status", event.Status)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}

// NoopProducer используется, когда Kafka отключена.
type NoopProducer struct {
	log *logger.Logger
}

// NewNoopProducer создает продюсер, который только пишет событие в лог.
func NewNoopProducer(log *logger.Logger) *NoopProducer {
	return &NoopProducer{log: log}
}

func (p *NoopProducer) PublishPlanEvent(_ context.Context, topic string, event PlanEvent) error {
	p.log.Debugw("Kafka disabled, plan event dropped", "topic", topic, "userID", event.UserID, "status", event.Status)
	return nil
}

func (p *NoopProducer) Close() error { return nil }
