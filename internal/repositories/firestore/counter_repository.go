package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/customwear/api/internal/platform/firestore"
	"github.com/customwear/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		clock:    time.Now,
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
// A missing counter starts at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" || step < 0 {
		return 0, fmt.Errorf("%w: id=%q step=%d", repositories.ErrCounterInvalidInput, counterID, step)
	}
	if step == 0 {
		step = 1
	}

	var next int64
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.counters.Get(ctx, id)
		switch {
		case pfirestore.IsNotFound(err):
			doc = counterDocument{}
		case err != nil:
			return err
		}
		doc.CurrentValue += step
		doc.UpdatedAt = r.clock().UTC()
		if err := r.counters.Set(ctx, id, doc); err != nil {
			return err
		}
		next = doc.CurrentValue
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
