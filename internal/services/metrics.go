package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/customwear/api/internal/services"

// serviceMetrics counts order lifecycle events and stock outcomes. Instruments that fail
// to register are left nil and skipped.
type serviceMetrics struct {
	orders metric.Int64Counter
	stock  metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) *serviceMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	m := &serviceMetrics{}
	if counter, err := meter.Int64Counter("orders.events",
		metric.WithDescription("Order lifecycle operations by event and outcome"),
	); err == nil {
		m.orders = counter
	}
	if counter, err := meter.Int64Counter("inventory.movements",
		metric.WithDescription("Stock movements and reconciliation outcomes"),
	); err == nil {
		m.stock = counter
	}
	return m
}

func (m *serviceMetrics) orderEvent(ctx context.Context, event, outcome string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

func (m *serviceMetrics) stockEvent(ctx context.Context, kind, outcome string, n int) {
	if m == nil || m.stock == nil || n <= 0 {
		return
	}
	m.stock.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
