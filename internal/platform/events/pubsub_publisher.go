package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/finitefield/pos-api/internal/services"
)

const schemaVersion = "1"

// orderEventMessage is the JSON body of every order event. Consumers key on type and order_id.
type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"order_id"`
	OrderCode      string         `json:"order_code,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status"`
	ActorID        string         `json:"actor_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PubSubPublisher publishes order domain events to a Pub/Sub topic. Messages for one order share an
// ordering key so subscribers with ordering enabled see them in commit order.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	timeout time.Duration
	marshal func(any) ([]byte, error)
}

// Option customises the publisher.
type Option func(*PubSubPublisher)

// WithPublishTimeout bounds how long PublishOrderEvent waits for the server ack.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *PubSubPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPubSubPublisher constructs a publisher on topic and enables message ordering on it.
func NewPubSubPublisher(topic *pubsub.Topic, opts ...Option) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	p := &PubSubPublisher{
		topic:   topic,
		timeout: 10 * time.Second,
		marshal: json.Marshal,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// PublishOrderEvent satisfies services.OrderEventPublisher.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" || strings.TrimSpace(event.OrderID) == "" {
		return errors.New("pubsub order publisher: event type and order id are required")
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderCode:      event.OrderCode,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"schemaVersion": schemaVersion}
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderCode", event.OrderCode)
	setAttr(attrs, "status", event.CurrentStatus)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// a failed publish pauses the ordering key until resumed
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
