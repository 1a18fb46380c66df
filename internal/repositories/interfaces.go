package repositories

import (
	"context"
	"time"

	domain "github.com/customwear/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Inventory() InventoryRepository
	StockIntents() StockIntentRepository
	CustomizationRules() CustomizationRuleRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the ctx passed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	// Insert stores a new order. Duplicate ids or order numbers are conflicts.
	Insert(ctx context.Context, order domain.Order) error
	// Update replaces the stored order when its version equals expectedVersion and bumps
	// the version. A stale version is a conflict.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
}

// CatalogRepository reads and writes products with their variants.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	SaveProduct(ctx context.Context, product domain.Product) error
}

// InventoryRepository applies idempotent stock movements. Each movement is applied
// atomically: the stock changes only if the movement id has not been applied before,
// the variant exists, the resulting stock stays non-negative and any required movement
// was applied.
type InventoryRepository interface {
	ApplyMovement(ctx context.Context, movement domain.StockMovement) (int, error)
	MovementApplied(ctx context.Context, movementID string) (bool, error)
}

// StockIntentRepository stores the reservation intent log.
type StockIntentRepository interface {
	Create(ctx context.Context, intent domain.StockIntent) error
	FindByID(ctx context.Context, intentID string) (domain.StockIntent, error)
	UpdateStatus(ctx context.Context, update StockIntentUpdate) error
	ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.StockIntent, error)
}

// StockIntentUpdate describes a status change on an intent. Anomalies are appended.
// When ExpectStatus is set the change applies only if the stored status still equals it;
// otherwise UpdateStatus fails with ErrIntentStatusChanged.
type StockIntentUpdate struct {
	IntentID     string
	Status       domain.StockIntentStatus
	ExpectStatus domain.StockIntentStatus
	OrderID      string
	LastError    string
	Anomalies    []string
	UpdatedAt    time.Time
}

// CustomizationRuleRepository stores the customization pricing grid.
type CustomizationRuleRepository interface {
	List(ctx context.Context) ([]domain.CustomizationRule, error)
	// Create inserts a new rule; an existing (type, placement) key is a conflict.
	Create(ctx context.Context, rule domain.CustomizationRule) error
	Update(ctx context.Context, rule domain.CustomizationRule) error
}

// CounterRepository issues monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
