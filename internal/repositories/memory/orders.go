package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	domain "github.com/customwear/api/internal/domain"
)

type orderRepository struct{ r *Registry }

func (o orderRepository) Insert(ctx context.Context, order domain.Order) error {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	if _, exists := o.r.orders[order.ID]; exists {
		return conflict("orders.insert", fmt.Errorf("order %s already exists", order.ID))
	}
	if _, exists := o.r.orderNumbers[order.OrderNumber]; exists {
		return conflict("orders.insert", fmt.Errorf("order number %s already used", order.OrderNumber))
	}
	if order.Version == 0 {
		order.Version = 1
	}
	remember(ctx, o.r.orders, order.ID)
	remember(ctx, o.r.orderNumbers, order.OrderNumber)
	o.r.orders[order.ID] = order.Clone()
	o.r.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

func (o orderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	current, ok := o.r.orders[order.ID]
	if !ok {
		return domain.Order{}, notFound("orders.update")
	}
	if current.Version != expectedVersion {
		return domain.Order{}, conflict("orders.update", errors.New("stale order version"))
	}
	order.Version = expectedVersion + 1
	remember(ctx, o.r.orders, order.ID)
	o.r.orders[order.ID] = order.Clone()
	return order.Clone(), nil
}

func (o orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	order, ok := o.r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find")
	}
	return order.Clone(), nil
}

func (o orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	var out []domain.Order
	for _, order := range o.r.orders {
		if order.UserID == userID {
			out = append(out, order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
