package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/customwear/api/internal/services"
)

// PubSubPublisher publishes order events to a Pub/Sub topic. Messages for one order
// share an ordering key.
type PubSubPublisher struct {
	topic *pubsub.Topic
	now   func() time.Time
}

var _ services.OrderEventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic, now: time.Now}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	envelope := NewEnvelope(event, p.now)
	data, err := envelope.encode()
	if err != nil {
		return err
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  envelope.attributes(),
		OrderingKey: envelope.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(envelope.OrderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return nil
}
