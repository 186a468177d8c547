package audit

import (
	"context"
	"encoding/json"
	"time"

	"squaresync/internal/logger"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const Topic = "sync-events"

// Event names.
const (
	EventZeroRequested    = "inventory_zero_requested"
	EventSyncResult       = "sync_result"
	EventPresenceRepaired = "presence_repaired"
	EventWebhookRejected  = "webhook_rejected"
	EventDiagLookup       = "diag_lookup"
)

// Sync directions.
const (
	DirectionCartToPOS = "cart_to_pos"
	DirectionPOSToCart = "pos_to_cart"
)

type Event struct {
	ID          string                 `json:"id"`
	Event       string                 `json:"event"`
	Direction   string                 `json:"direction,omitempty"`
	SKU         string                 `json:"sku,omitempty"`
	VariationID string                 `json:"variation_id,omitempty"`
	Quantity    *int                   `json:"quantity,omitempty"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	At          time.Time              `json:"at"`
}

// Publisher emits audit events. Publishing is best effort; implementations
// must never fail the calling request.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

func NewKafkaPublisher(brokers string, logger *logger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers),
		Topic:        Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal audit event %s: %v", event.Event, err)
		return
	}

	key := event.SKU
	if key == "" {
		key = event.VariationID
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		p.logger.Error("failed to publish audit event %s: %v", event.Event, err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events. Used when Kafka is not configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
