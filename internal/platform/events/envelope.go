// Package events publishes order domain events to a message broker.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/customwear/api/internal/services"
)

// SchemaVersion is carried on every message so consumers can branch on payload shape.
const SchemaVersion = "1"

// Envelope is the JSON body of an order event.
type Envelope struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Version        string         `json:"version"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewEnvelope assigns a fresh event id. A zero OccurredAt is replaced by now.
func NewEnvelope(event services.OrderEvent, now func() time.Time) Envelope {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = now()
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           strings.TrimSpace(event.Type),
		Version:        SchemaVersion,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		UserID:         event.UserID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     occurred.UTC(),
		Metadata:       event.Metadata,
	}
}

func (e Envelope) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode order event: %w", err)
	}
	return data, nil
}

// attributes are the routing hints copied to broker headers.
func (e Envelope) attributes() map[string]string {
	attrs := map[string]string{
		"eventId":   e.ID,
		"eventType": e.Type,
		"version":   e.Version,
	}
	setAttr(attrs, "orderId", e.OrderID)
	setAttr(attrs, "status", e.CurrentStatus)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
