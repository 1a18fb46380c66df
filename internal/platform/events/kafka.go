package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/customwear/api/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events keyed by order id, so one order's events stay on a
// single partition.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

var _ services.OrderEventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a synchronous writer that waits for all in-sync replicas.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka event publisher: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka event publisher: topic is required")
	}
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, now: time.Now}
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	envelope := NewEnvelope(event, p.now)
	data, err := envelope.encode()
	if err != nil {
		return err
	}

	attrs := envelope.attributes()
	headers := make([]kafka.Header, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(envelope.OrderID),
		Value:   data,
		Headers: headers,
		Time:    envelope.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
