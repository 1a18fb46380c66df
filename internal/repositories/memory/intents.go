package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

type intentRepository struct{ r *Registry }

func (i intentRepository) Create(ctx context.Context, intent domain.StockIntent) error {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()

	if _, exists := i.r.intents[intent.ID]; exists {
		return conflict("intents.create", fmt.Errorf("intent %s already exists", intent.ID))
	}
	remember(ctx, i.r.intents, intent.ID)
	i.r.intents[intent.ID] = intent.Clone()
	return nil
}

func (i intentRepository) FindByID(_ context.Context, intentID string) (domain.StockIntent, error) {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()

	intent, ok := i.r.intents[intentID]
	if !ok {
		return domain.StockIntent{}, notFound("intents.find")
	}
	return intent.Clone(), nil
}

func (i intentRepository) UpdateStatus(ctx context.Context, update repositories.StockIntentUpdate) error {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()

	intent, ok := i.r.intents[update.IntentID]
	if !ok {
		return notFound("intents.update")
	}
	if update.ExpectStatus != "" && intent.Status != update.ExpectStatus {
		return repositories.IntentStatusChanged("intents.update", intent.ID, update.ExpectStatus, intent.Status)
	}
	remember(ctx, i.r.intents, intent.ID)
	intent = intent.Clone()
	intent.Status = update.Status
	if update.OrderID != "" {
		intent.OrderID = update.OrderID
	}
	intent.LastError = update.LastError
	intent.Anomalies = append(intent.Anomalies, update.Anomalies...)
	intent.UpdatedAt = update.UpdatedAt
	i.r.intents[intent.ID] = intent
	return nil
}

func (i intentRepository) ListOpen(_ context.Context, olderThan time.Time, limit int) ([]domain.StockIntent, error) {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()

	var out []domain.StockIntent
	for _, intent := range i.r.intents {
		if intent.Open() && intent.UpdatedAt.Before(olderThan) {
			out = append(out, intent.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].UpdatedAt.Before(out[b].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
