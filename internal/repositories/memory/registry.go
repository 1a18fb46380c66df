// Package memory implements the repositories on process memory. It backs local runs and
// the service tests; every method is safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"sync"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

// Registry holds all in-memory collections behind a single lock.
type Registry struct {
	mu           sync.Mutex
	orders       map[string]domain.Order
	orderNumbers map[string]string
	products     map[string]domain.Product
	movements    map[string]domain.StockMovement
	intents      map[string]domain.StockIntent
	rules        map[string]domain.CustomizationRule
	counters     map[string]int64

	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry returns an empty in-memory registry.
func NewRegistry() *Registry {
	r := &Registry{
		orders:       make(map[string]domain.Order),
		orderNumbers: make(map[string]string),
		products:     make(map[string]domain.Product),
		movements:    make(map[string]domain.StockMovement),
		intents:      make(map[string]domain.StockIntent),
		rules:        make(map[string]domain.CustomizationRule),
		counters:     make(map[string]int64),
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	if err != nil {
		panic(err)
	}
	r.health = health
	return r
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository       { return orderRepository{r} }
func (r *Registry) Catalog() repositories.CatalogRepository     { return catalogRepository{r} }
func (r *Registry) Inventory() repositories.InventoryRepository { return inventoryRepository{r} }
func (r *Registry) StockIntents() repositories.StockIntentRepository {
	return intentRepository{r}
}
func (r *Registry) CustomizationRules() repositories.CustomizationRuleRepository {
	return ruleRepository{r}
}
func (r *Registry) Counters() repositories.CounterRepository { return counterRepository{r} }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

var errNilTxFunc = errors.New("memory: transaction function is nil")

func notFound(op string) error {
	return repositories.NewError(op, repositories.ErrorKindNotFound, nil)
}

func conflict(op string, err error) error {
	return repositories.NewError(op, repositories.ErrorKindConflict, err)
}
