package memory

import (
	"context"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

type catalogRepository struct{ r *Registry }

func (c catalogRepository) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	product, ok := c.r.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get")
	}
	return product.Clone(), nil
}

func (c catalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	remember(ctx, c.r.products, product.ID)
	c.r.products[product.ID] = product.Clone()
	return nil
}

type inventoryRepository struct{ r *Registry }

func (i inventoryRepository) ApplyMovement(ctx context.Context, movement domain.StockMovement) (int, error) {
	const op = "inventory.apply"
	i.r.mu.Lock()
	defer i.r.mu.Unlock()

	if _, applied := i.r.movements[movement.ID]; applied {
		return 0, repositories.NewStockError(op, repositories.StockErrorMovementApplied, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
	}
	if movement.Requires != "" {
		if _, ok := i.r.movements[movement.Requires]; !ok {
			return 0, repositories.NewStockError(op, repositories.StockErrorMovementMissing, movement.ID, movement.ProductID, movement.VariantID, movement.Delta, 0)
		}
	}

	product, ok := i.r.products[movement.ProductID]
	if !ok {
		return 0, repositories.NewStockError(op, repositories.StockErrorNoMatch, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
	}
	index := -1
	for idx, variant := range product.Variants {
		if variant.ID == movement.VariantID {
			index = idx
			break
		}
	}
	if index < 0 {
		return 0, repositories.NewStockError(op, repositories.StockErrorNoMatch, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
	}

	stock := product.Variants[index].Stock
	if stock+movement.Delta < 0 {
		return 0, repositories.NewStockError(op, repositories.StockErrorInsufficient, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, stock)
	}

	product = product.Clone()
	product.Variants[index].Stock = stock + movement.Delta
	remember(ctx, i.r.products, product.ID)
	remember(ctx, i.r.movements, movement.ID)
	i.r.products[product.ID] = product
	i.r.movements[movement.ID] = movement
	return product.Variants[index].Stock, nil
}

func (i inventoryRepository) MovementApplied(_ context.Context, movementID string) (bool, error) {
	i.r.mu.Lock()
	defer i.r.mu.Unlock()

	_, ok := i.r.movements[movementID]
	return ok, nil
}
