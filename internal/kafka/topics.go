package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// Топики событий покупок
const (
	TopicPurchasesUpdated     = "purchases.updated"
	TopicPurchaseAcknowledged = "purchase.acknowledged"
)

// RequiredTopics топики, которые сервис создает при старте
func RequiredTopics() []kafkaGo.TopicConfig {
	return []kafkaGo.TopicConfig{
		{Topic: TopicPurchasesUpdated, NumPartitions: 3, ReplicationFactor: 1},
		{Topic: TopicPurchaseAcknowledged, NumPartitions: 3, ReplicationFactor: 1},
	}
}

// validateBroker проверяет формат адреса host:port
func validateBroker(broker string) error {
	if strings.TrimSpace(broker) == "" {
		return errors.New("kafka broker address is empty")
	}
	_, portStr, err := net.SplitHostPort(strings.TrimSpace(broker))
	if err != nil {
		return fmt.Errorf("invalid broker address %s: %w", broker, err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		return fmt.Errorf("invalid broker port %s: %w", broker, err)
	}
	return nil
}

// missingTopics возвращает топики из required, которых нет среди существующих
func missingTopics(required []kafkaGo.TopicConfig, partitions []kafkaGo.Partition) []kafkaGo.TopicConfig {
	existing := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	var out []kafkaGo.TopicConfig
	for _, t := range required {
		if !existing[t.Topic] {
			out = append(out, t)
		}
	}
	return out
}

// EnsureTopics проверяет и создает необходимые топики Kafka
func EnsureTopics(ctx context.Context, brokers []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("kafka broker address is empty")
	}
	if err := validateBroker(brokers[0]); err != nil {
		log.Errorw("Invalid Kafka broker address", "broker", brokers[0], "error", err)
		return err
	}

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := kafkaGo.DialLeader(connCtx, "tcp", strings.TrimSpace(brokers[0]), "", 0)
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker for topic creation", "broker", brokers[0], "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	toCreate := missingTopics(RequiredTopics(), partitions)
	if len(toCreate) == 0 {
		log.Infow("All required topics already exist")
		return nil
	}

	names := make([]string, 0, len(toCreate))
	for _, t := range toCreate {
		names = append(names, t.Topic)
	}
	log.Infow("Creating Kafka topics", "topics", names)

	if err := conn.CreateTopics(toCreate...); err != nil {
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Warnw("One or more topics already existed during creation attempt", "topics", names)
			return nil
		}
		log.Errorw("Failed to create topics", "error", err, "topics", names)
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Successfully created topics", "topics", names)
	return nil
}
