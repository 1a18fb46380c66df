package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

func newOrderMock(t *testing.T) (*OrderRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewOrderRepository(db), mock
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "CW-20240501-000001",
		UserID:      "user_1",
		Status:      domain.OrderStatusPending,
		CreatedAt:   movementAt,
		UpdatedAt:   movementAt,
	}
}

func requireKind(t *testing.T, err error, check func(repositories.RepositoryError) bool) {
	t.Helper()
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr), "expected repository error, got %v", err)
	require.True(t, check(repoErr), "unexpected kind: %v", err)
}

func TestOrderInsertDuplicateNumberIsConflict(t *testing.T) {
	repo, mock := newOrderMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders`)).
		WithArgs("ord_1", "CW-20240501-000001", "user_1", "pending", int64(1), sqlmock.AnyArg(), movementAt, movementAt).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "orders_order_number_key"})

	err := repo.Insert(context.Background(), sampleOrder())
	requireKind(t, err, repositories.RepositoryError.IsConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdateBumpsVersion(t *testing.T) {
	repo, mock := newOrderMock(t)
	order := sampleOrder()
	order.Status = domain.OrderStatusConfirmed

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders SET status = $3, version = $4`)).
		WithArgs("ord_1", int64(3), "confirmed", int64(4), sqlmock.AnyArg(), movementAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.Update(context.Background(), order, 3)
	require.NoError(t, err)
	require.Equal(t, int64(4), updated.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdateStaleVersionIsConflict(t *testing.T) {
	repo, mock := newOrderMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM orders WHERE id = $1`)).
		WithArgs("ord_1").
		WillReturnRows(sqlmock.NewRows([]string{"found"}).AddRow(1))

	_, err := repo.Update(context.Background(), sampleOrder(), 1)
	requireKind(t, err, repositories.RepositoryError.IsConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdateMissingOrderIsNotFound(t *testing.T) {
	repo, mock := newOrderMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orders`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM orders WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"found"}))

	_, err := repo.Update(context.Background(), sampleOrder(), 1)
	requireKind(t, err, repositories.RepositoryError.IsNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderFindByIDTakesVersionFromColumn(t *testing.T) {
	repo, mock := newOrderMock(t)
	payload, err := json.Marshal(sampleOrder())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT payload, version FROM orders WHERE id = $1`)).
		WithArgs("ord_1").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow(payload, int64(7)))

	order, err := repo.FindByID(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Equal(t, "CW-20240501-000001", order.OrderNumber)
	require.Equal(t, int64(7), order.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderListByUserAppliesDefaultLimit(t *testing.T) {
	repo, mock := newOrderMock(t)
	payload, err := json.Marshal(sampleOrder())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`)).
		WithArgs("user_1", defaultOrderListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"payload", "version"}).AddRow(payload, int64(1)))

	orders, err := repo.ListByUser(context.Background(), "user_1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryRunInTxSharesTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	registry, err := NewRegistry(db)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO counters`)).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	err = registry.RunInTx(context.Background(), func(ctx context.Context) error {
		if _, err := registry.Counters().Next(ctx, "orders:20240501", 1); err != nil {
			return err
		}
		return registry.Orders().Insert(ctx, sampleOrder())
	})
	requireKind(t, err, repositories.RepositoryError.IsConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
