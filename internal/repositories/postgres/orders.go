package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

const defaultOrderListLimit = 50

// OrderRepository stores the order aggregate as JSONB next to the columns it is queried
// and constrained by.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Postgres order repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("orders.insert: encode: %w", err)
	}
	_, err = conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, version, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.OrderNumber, order.UserID, string(order.Status), order.Version, string(payload),
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	return wrapError("orders.insert", err)
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	order.Version = expectedVersion + 1
	payload, err := json.Marshal(order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders.update: encode: %w", err)
	}
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE orders SET status = $3, version = $4, payload = $5, updated_at = $6
		WHERE id = $1 AND version = $2`,
		order.ID, expectedVersion, string(order.Status), order.Version, string(payload), order.UpdatedAt.UTC(),
	)
	if err != nil {
		return domain.Order{}, wrapError("orders.update", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return domain.Order{}, wrapError("orders.update", err)
	} else if affected == 1 {
		return order, nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = $1`, order.ID).Scan(&exists)
	if err != nil {
		return domain.Order{}, wrapError("orders.update", err)
	}
	return domain.Order{}, repositories.NewError("orders.update", repositories.ErrorKindConflict, errors.New("stale order version"))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var payload []byte
	var version int64
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT payload, version FROM orders WHERE id = $1`, orderID).Scan(&payload, &version)
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	return decodeOrder(payload, version)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT payload, version FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, wrapError("orders.list", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var payload []byte
		var version int64
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, wrapError("orders.list", err)
		}
		order, err := decodeOrder(payload, version)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, wrapError("orders.list", rows.Err())
}

func decodeOrder(payload []byte, version int64) (domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return domain.Order{}, fmt.Errorf("orders: decode payload: %w", err)
	}
	order.Version = version
	return order, nil
}
