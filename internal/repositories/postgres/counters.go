package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/customwear/api/internal/repositories"
)

// CounterRepository issues sequence numbers with an atomic upsert.
type CounterRepository struct {
	db *sql.DB
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Postgres counter repository.
func NewCounterRepository(db *sql.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" || step < 0 {
		return 0, fmt.Errorf("%w: id=%q step=%d", repositories.ErrCounterInvalidInput, counterID, step)
	}
	if step == 0 {
		step = 1
	}
	var value int64
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO counters (id, value) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET value = counters.value + EXCLUDED.value, updated_at = now()
		RETURNING value`, id, step).Scan(&value)
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return value, nil
}
