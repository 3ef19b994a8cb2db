package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/kafka"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// Типы событий
const (
	EventPurchasesUpdated     = "purchases_updated"
	EventPurchaseAcknowledged = "purchase_acknowledged"
)

// PurchaseEvent событие о покупках для Kafka
type PurchaseEvent struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Provider    string             `json:"provider"`
	ProductType domain.ProductType `json:"product_type,omitempty"`
	Purchases   []domain.Purchase  `json:"purchases,omitempty"`
	Token       string             `json:"purchase_token,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// PurchaseProducer отправляет события покупок
type PurchaseProducer interface {
	PublishPurchasesUpdated(ctx context.Context, productType domain.ProductType, purchases []domain.Purchase) error
	PublishPurchaseAcknowledged(ctx context.Context, purchaseToken string) error
	Close() error
}

// Recorder учитывает результат отправки
type Recorder interface {
	IncEventPublished(topic string, ok bool)
}

type kafkaPurchaseProducer struct {
	producer sarama.SyncProducer
	provider string
	metrics  Recorder
	log      *logger.Logger
	now      func() time.Time
}

// NewKafkaPurchaseProducer создает продюсер событий покупок. metrics может быть nil.
func NewKafkaPurchaseProducer(producer sarama.SyncProducer, provider string, metrics Recorder, log *logger.Logger) PurchaseProducer {
	return &kafkaPurchaseProducer{
		producer: producer,
		provider: provider,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// PublishPurchasesUpdated публикует новый список покупок одного типа
func (p *kafkaPurchaseProducer) PublishPurchasesUpdated(ctx context.Context, productType domain.ProductType, purchases []domain.Purchase) error {
	if purchases == nil {
		purchases = []domain.Purchase{}
	}
	event := p.newEvent(EventPurchasesUpdated)
	event.ProductType = productType
	event.Purchases = purchases
	return p.publish(ctx, kafka.TopicPurchasesUpdated, string(productType), event)
}

// PublishPurchaseAcknowledged публикует подтверждение покупки
func (p *kafkaPurchaseProducer) PublishPurchaseAcknowledged(ctx context.Context, purchaseToken string) error {
	event := p.newEvent(EventPurchaseAcknowledged)
	event.Token = purchaseToken
	return p.publish(ctx, kafka.TopicPurchaseAcknowledged, purchaseToken, event)
}

func (p *kafkaPurchaseProducer) newEvent(eventType string) PurchaseEvent {
	return PurchaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Provider:  p.provider,
		Timestamp: p.now().UTC(),
	}
}

func (p *kafkaPurchaseProducer) publish(ctx context.Context, topic, key string, event PurchaseEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
		Timestamp: event.Timestamp,
	}

	partition, offset, err := p.producer.SendMessage(message)
	p.record(topic, err == nil)
	if err != nil {
		p.log.Errorw("Failed to publish purchase event", "topic", topic, "error", err)
		return fmt.Errorf("failed to publish purchase event: %w", err)
	}

	p.log.Debug("Published purchase event to topic %s: partition=%d offset=%d", topic, partition, offset)
	return nil
}

func (p *kafkaPurchaseProducer) record(topic string, ok bool) {
	if p.metrics != nil {
		p.metrics.IncEventPublished(topic, ok)
	}
}

// Close закрывает продюсер
func (p *kafkaPurchaseProducer) Close() error {
	return p.producer.Close()
}
