package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/customwear/api/internal/repositories"
)

const orderCounterPrefix = "orders-"

// OrderNumberGeneratorDeps bundles the collaborators of the order number generator.
type OrderNumberGeneratorDeps struct {
	Counters repositories.CounterRepository
	Prefix   string
	Location *time.Location
	Clock    func() time.Time
}

// OrderNumberGenerator issues numbers of the form <PREFIX><YYMMDD><NNNN>, where NNNN is
// the 1-based sequence of the order within its calendar day.
type OrderNumberGenerator struct {
	counters repositories.CounterRepository
	prefix   string
	location *time.Location
	clock    func() time.Time
}

// NewOrderNumberGenerator constructs a generator. The day boundary follows Location,
// which defaults to UTC.
func NewOrderNumberGenerator(deps OrderNumberGeneratorDeps) (*OrderNumberGenerator, error) {
	if deps.Counters == nil {
		return nil, errors.New("order number generator: counter repository is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		return nil, errors.New("order number generator: prefix is required")
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OrderNumberGenerator{
		counters: deps.Counters,
		prefix:   prefix,
		location: location,
		clock:    clock,
	}, nil
}

// Next increments the day's counter and formats the number.
func (g *OrderNumberGenerator) Next(ctx context.Context) (string, error) {
	day := g.clock().In(g.location).Format("060102")
	value, err := g.counters.Next(ctx, orderCounterPrefix+day, 1)
	if err != nil {
		return "", mapRepositoryError("orders.number", err, map[string]any{"day": day})
	}
	return FormatOrderNumber(g.prefix, day, value), nil
}

// FormatOrderNumber renders prefix, the YYMMDD day and a sequence padded to four digits.
func FormatOrderNumber(prefix, day string, sequence int64) string {
	return fmt.Sprintf("%s%s%04d", prefix, day, sequence)
}
