package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/customwear/api/internal/domain"
	pfirestore "github.com/customwear/api/internal/platform/firestore"
	"github.com/customwear/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	defaultOrderListLimit  = 50
)

// OrderRepository stores orders plus an orderNumbers/{number} document that claims each
// order number exactly once.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	numbers  *pfirestore.Collection[orderNumberDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		numbers:  pfirestore.NewCollection[orderNumberDocument](provider, orderNumbersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order insert: id and order number are required")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.numbers.Create(ctx, order.OrderNumber, orderNumberDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return r.orders.Create(ctx, order.ID, newOrderDocument(order))
	})
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	var updated domain.Order
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.orders.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return repositories.NewError("orders.update", repositories.ErrorKindConflict,
				fmt.Errorf("stale order version: stored %d, expected %d", current.Version, expectedVersion))
		}
		order.Version = expectedVersion + 1
		if err := r.orders.Set(ctx, order.ID, newOrderDocument(order)); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return updated, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	return doc.toDomain(), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, pfirestore.WrapError("orders.list", err)
	}
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}
