// Package jobs carries order events to background consumers over Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orderflow/internal/services"
)

// PubSubOrderEventPublisher publishes order events to one topic. The order id is used as the
// ordering key so consumers observe transitions of an order in sequence.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	timeout time.Duration
}

// NewPubSubOrderEventPublisher enables message ordering on topic. A non-positive timeout
// defaults to five seconds.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic, timeout time.Duration) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{topic: topic, timeout: timeout}, nil
}

type orderEventMessage struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	CustomerID     string         `json:"customerId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	ActorRole      string         `json:"actorRole,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, err := json.Marshal(orderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	attrs := map[string]string{}
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.OrderID),
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key; resume so later events still flow.
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubOrderEventPublisher) Stop() {
	p.topic.Stop()
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
