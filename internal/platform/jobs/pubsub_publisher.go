package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/lumenmart/api/internal/domain"
)

// EventPublisher delivers one outbox event downstream and returns the broker message id.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.OutboxEvent) (string, error)
}

// EventMessage is the JSON body published for each outbox event.
type EventMessage struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	OrderID   string         `json:"orderId"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// PubSubEventPublisher publishes outbox events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEvent sends the event and waits for the broker acknowledgement. Consumers dedupe on
// the eventId attribute since redelivery after a failed MarkDelivered is possible.
func (p *PubSubEventPublisher) PublishEvent(ctx context.Context, event domain.OutboxEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(EventMessage{
		ID:        event.ID,
		Type:      event.Type,
		OrderID:   event.OrderID,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal outbox event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish outbox event: %w", err)
	}
	return id, nil
}

// LogEventPublisher writes events to the log. It stands in for Pub/Sub when no topic is
// configured so the outbox still drains in local runs.
type LogEventPublisher struct {
	logger *zap.Logger
}

// NewLogEventPublisher constructs a LogEventPublisher.
func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEventPublisher{logger: logger}
}

func (p *LogEventPublisher) PublishEvent(_ context.Context, event domain.OutboxEvent) (string, error) {
	p.logger.Info("outbox event",
		zap.String("eventId", event.ID),
		zap.String("eventType", event.Type),
		zap.String("orderId", event.OrderID),
		zap.Any("payload", event.Payload),
	)
	return event.ID, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
