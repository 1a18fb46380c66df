package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/customwear/api/internal/repositories"
)

// Registry bundles the Postgres repositories behind the repositories.Registry interface.
type Registry struct {
	db       *sql.DB
	orders   *OrderRepository
	catalog  *CatalogRepository
	intents  *StockIntentRepository
	rules    *CustomizationRuleRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository to db. extraChecks are added to the readiness report.
func NewRegistry(db *sql.DB, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry: db is required")
	}
	checks := append([]repositories.DependencyCheck{{Name: "postgres", Check: db.PingContext}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{
		db:       db,
		orders:   NewOrderRepository(db),
		catalog:  NewCatalogRepository(db),
		intents:  NewStockIntentRepository(db),
		rules:    NewCustomizationRuleRepository(db),
		counters: NewCounterRepository(db),
		health:   health,
	}, nil
}

func (r *Registry) Close(context.Context) error { return r.db.Close() }

func (r *Registry) Orders() repositories.OrderRepository            { return r.orders }
func (r *Registry) Catalog() repositories.CatalogRepository          { return r.catalog }
func (r *Registry) Inventory() repositories.InventoryRepository      { return r.catalog }
func (r *Registry) StockIntents() repositories.StockIntentRepository { return r.intents }
func (r *Registry) Counters() repositories.CounterRepository         { return r.counters }
func (r *Registry) Health() repositories.HealthRepository            { return r.health }
func (r *Registry) CustomizationRules() repositories.CustomizationRuleRepository {
	return r.rules
}

// RunInTx runs fn in one SQL transaction; repositories called with the derived ctx join it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	return runInTx(ctx, r.db, fn)
}
