package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// Config конфигурация для Kafka
type Config struct {
	Brokers  []string
	ClientID string
	Producer ProducerConfig
}

// ProducerConfig конфигурация для продюсера
type ProducerConfig struct {
	MaxMessageBytes  int
	Compression      sarama.CompressionCodec
	RequiredAcks     sarama.RequiredAcks
	FlushMaxMessages int
	RetryMax         int
	Timeout          time.Duration
}

// NewConfig создает новую конфигурацию Kafka
func NewConfig(brokers []string) *Config {
	return &Config{
		Brokers:  brokers,
		ClientID: "billingd",
		Producer: ProducerConfig{
			MaxMessageBytes:  1000000,
			Compression:      sarama.CompressionSnappy,
			RequiredAcks:     sarama.WaitForAll,
			FlushMaxMessages: 100,
			RetryMax:         5,
			Timeout:          10 * time.Second,
		},
	}
}

// NewSaramaConfig создает новую конфигурацию Sarama
func NewSaramaConfig(cfg *Config) *sarama.Config {
	saramaConfig := sarama.NewConfig()

	// Версия Kafka
	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = cfg.ClientID

	// Настройки продюсера. SyncProducer требует Return.Successes.
	saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	saramaConfig.Producer.Compression = cfg.Producer.Compression
	saramaConfig.Producer.RequiredAcks = cfg.Producer.RequiredAcks
	saramaConfig.Producer.Flush.MaxMessages = cfg.Producer.FlushMaxMessages
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Timeout = cfg.Producer.Timeout
	saramaConfig.Producer.Idempotent = false
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	return saramaConfig
}

// NewSyncProducer подключается к брокерам
func NewSyncProducer(cfg *Config, log *logger.Logger) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		log.Errorw("Failed to create Kafka producer", "brokers", cfg.Brokers, "error", err)
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Infow("Kafka producer created", "brokers", cfg.Brokers)
	return producer, nil
}
