package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/customwear/api/internal/domain"
	pfirestore "github.com/customwear/api/internal/platform/firestore"
	"github.com/customwear/api/internal/repositories"
)

const stockIntentsCollection = "stockIntents"

// StockIntentRepository persists the reservation intent log.
type StockIntentRepository struct {
	provider *pfirestore.Provider
	intents  *pfirestore.Collection[intentDocument]
}

var _ repositories.StockIntentRepository = (*StockIntentRepository)(nil)

// NewStockIntentRepository constructs a Firestore-backed intent repository.
func NewStockIntentRepository(provider *pfirestore.Provider) (*StockIntentRepository, error) {
	if provider == nil {
		return nil, errors.New("stock intent repository requires firestore provider")
	}
	return &StockIntentRepository{
		provider: provider,
		intents:  pfirestore.NewCollection[intentDocument](provider, stockIntentsCollection),
	}, nil
}

func (r *StockIntentRepository) Create(ctx context.Context, intent domain.StockIntent) error {
	return pfirestore.WrapError("intents.create", r.intents.Create(ctx, intent.ID, newIntentDocument(intent)))
}

func (r *StockIntentRepository) FindByID(ctx context.Context, intentID string) (domain.StockIntent, error) {
	doc, err := r.intents.Get(ctx, intentID)
	if err != nil {
		return domain.StockIntent{}, pfirestore.WrapError("intents.find", err)
	}
	return doc.toDomain(), nil
}

// UpdateStatus writes field updates without reading first, so it can run after other
// writes inside an order transaction. A conditional update reads the intent, so inside
// a transaction it must come before any write.
func (r *StockIntentRepository) UpdateStatus(ctx context.Context, update repositories.StockIntentUpdate) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "lastError", Value: update.LastError},
		{Path: "updatedAt", Value: update.UpdatedAt.UTC()},
	}
	if update.OrderID != "" {
		updates = append(updates, firestore.Update{Path: "orderId", Value: update.OrderID})
	}
	if len(update.Anomalies) > 0 {
		values := make([]any, 0, len(update.Anomalies))
		for _, anomaly := range update.Anomalies {
			values = append(values, anomaly)
		}
		updates = append(updates, firestore.Update{Path: "anomalies", Value: firestore.ArrayUnion(values...)})
	}
	if update.ExpectStatus == "" {
		return pfirestore.WrapError("intents.update", r.intents.Update(ctx, update.IntentID, updates))
	}
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.intents.Get(ctx, update.IntentID)
		if err != nil {
			return err
		}
		if status := domain.StockIntentStatus(current.Status); status != update.ExpectStatus {
			return repositories.IntentStatusChanged("intents.update", update.IntentID, update.ExpectStatus, status)
		}
		return r.intents.Update(ctx, update.IntentID, updates)
	})
	return pfirestore.WrapError("intents.update", err)
}

func (r *StockIntentRepository) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.StockIntent, error) {
	docs, err := r.intents.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "in", []string{string(domain.StockIntentPending), string(domain.StockIntentReleasing)}).
			Where("updatedAt", "<", olderThan.UTC()).
			OrderBy("updatedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, pfirestore.WrapError("intents.list_open", err)
	}
	out := make([]domain.StockIntent, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}
