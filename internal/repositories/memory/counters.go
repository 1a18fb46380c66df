package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/customwear/api/internal/repositories"
)

type counterRepository struct{ r *Registry }

func (c counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" || step < 0 {
		return 0, fmt.Errorf("%w: id=%q step=%d", repositories.ErrCounterInvalidInput, counterID, step)
	}
	if step == 0 {
		step = 1
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	remember(ctx, c.r.counters, id)
	c.r.counters[id] += step
	return c.r.counters[id], nil
}

// SeedCounter sets the current value of a counter, e.g. to continue numbering after an import.
func (r *Registry) SeedCounter(counterID string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counterID] = value
}
