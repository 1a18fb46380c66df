package memory

import "context"

type journalKey struct{}

// journal collects undo steps for the writes made inside RunInTx.
type journal struct {
	undo []func()
}

func journalFrom(ctx context.Context) *journal {
	if ctx == nil {
		return nil
	}
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

// remember records the current entry for key so a failed transaction can put it back.
// Callers hold r.mu.
func remember[K comparable, V any](ctx context.Context, m map[K]V, key K) {
	j := journalFrom(ctx)
	if j == nil {
		return
	}
	prev, existed := m[key]
	j.undo = append(j.undo, func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
}

// RunInTx runs fn and reverts every write fn made through this registry when it returns
// an error. Nested calls join the outer transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errNilTxFunc
	}
	if journalFrom(ctx) != nil {
		return fn(ctx)
	}
	j := &journal{}
	err := fn(context.WithValue(ctx, journalKey{}, j))
	if err != nil {
		r.mu.Lock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		r.mu.Unlock()
	}
	return err
}
