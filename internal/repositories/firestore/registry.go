// Package firestore implements the repositories on Cloud Firestore. Multi-document
// writes run in Firestore transactions; repositories join the transaction carried on ctx.
package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/status"

	pfirestore "github.com/customwear/api/internal/platform/firestore"
	"github.com/customwear/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind the repositories.Registry interface.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	catalog   *CatalogRepository
	intents   *StockIntentRepository
	rules     *CustomizationRuleRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
	extraDeps []repositories.DependencyCheck
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithHealthChecks adds dependency probes (Redis, brokers) to the readiness report.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(r *Registry) {
		r.extraDeps = append(r.extraDeps, checks...)
	}
}

// NewRegistry wires every Firestore repository to the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	reg := &Registry{provider: provider}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}

	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.intents, err = NewStockIntentRepository(provider); err != nil {
		return nil, err
	}
	if reg.rules, err = NewCustomizationRuleRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, reg.extraDeps...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) Catalog() repositories.CatalogRepository           { return r.catalog }
func (r *Registry) Inventory() repositories.InventoryRepository       { return r.catalog }
func (r *Registry) StockIntents() repositories.StockIntentRepository  { return r.intents }
func (r *Registry) Counters() repositories.CounterRepository          { return r.counters }
func (r *Registry) Health() repositories.HealthRepository             { return r.health }
func (r *Registry) CustomizationRules() repositories.CustomizationRuleRepository {
	return r.rules
}

// RunInTx implements repositories.UnitOfWork with a Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := r.provider.RunInTx(ctx, fn)
	if _, isStatus := status.FromError(err); err != nil && isStatus {
		return pfirestore.WrapError("firestore.tx", err)
	}
	return err
}
