package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
)

// planEventRetention 30 дней в миллисекундах
const planEventRetention = "2592000000"

// PlanTopics конфигурация топиков событий плана.
func PlanTopics() []kafkaGo.TopicConfig {
	topics := []string{TopicCheckoutStarted, TopicPlanActivated, TopicPlanCanceled}

	configs := make([]kafkaGo.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafkaGo.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
			ConfigEntries: []kafkaGo.ConfigEntry{
				{ConfigName: "retention.ms", ConfigValue: planEventRetention},
				{ConfigName: "cleanup.policy", ConfigValue: "delete"},
			},
		})
	}
	return configs
}

// EnsureKafkaTopics создает отсутствующие топики событий плана через контроллер кластера.
func EnsureKafkaTopics(ctx context.Context, brokers []string, log *logger.Logger) error {
	if len(brokers) == 0 || strings.TrimSpace(brokers[0]) == "" {
		return errors.New("kafka broker address is empty")
	}
	broker := strings.TrimSpace(brokers[0])

	conn, err := kafkaGo.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existing := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	missing := missingTopics(PlanTopics(), existing)
	if len(missing) == 0 {
		log.Debugw("Kafka topics already exist")
		return nil
	}

	// CreateTopics принимает только контроллер
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup failed: %w", err)
	}
	controllerConn, err := kafkaGo.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka controller connection failed: %w", err)
	}
	defer controllerConn.Close()

	if err := controllerConn.CreateTopics(missing...); err != nil && !errors.Is(err, kafkaGo.TopicAlreadyExists) {
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Kafka topics created", "topics", topicNames(missing), "controller", controller.Host)
	return nil
}

func missingTopics(required []kafkaGo.TopicConfig, existing map[string]struct{}) []kafkaGo.TopicConfig {
	var missing []kafkaGo.TopicConfig
	for _, tc := range required {
		if _, ok := existing[tc.Topic]; !ok {
			missing = append(missing, tc)
		}
	}
	return missing
}

func topicNames(configs []kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(configs))
	for _, tc := range configs {
		names = append(names, tc.Topic)
	}
	return names
}
