package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/customwear/api/internal/domain"
	pfirestore "github.com/customwear/api/internal/platform/firestore"
	"github.com/customwear/api/internal/repositories"
)

const (
	productsCollection  = "products"
	movementsCollection = "stockMovements"
)

// CatalogRepository stores products with their variants embedded in one document, so a
// stock movement touches exactly one product document and one movement document.
type CatalogRepository struct {
	provider  *pfirestore.Provider
	products  *pfirestore.Collection[productDocument]
	movements *pfirestore.Collection[movementDocument]
}

var (
	_ repositories.CatalogRepository   = (*CatalogRepository)(nil)
	_ repositories.InventoryRepository = (*CatalogRepository)(nil)
)

// NewCatalogRepository constructs the Firestore catalog and inventory repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider:  provider,
		products:  pfirestore.NewCollection[productDocument](provider, productsCollection),
		movements: pfirestore.NewCollection[movementDocument](provider, movementsCollection),
	}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.get", err)
	}
	return doc.toDomain(), nil
}

func (r *CatalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product save: id is required")
	}
	return pfirestore.WrapError("products.save", r.products.Set(ctx, product.ID, newProductDocument(product)))
}

// ApplyMovement reads the movement, its prerequisite and the product inside one
// transaction, then writes the new stock and the movement record together.
func (r *CatalogRepository) ApplyMovement(ctx context.Context, movement domain.StockMovement) (int, error) {
	const op = "inventory.apply"
	if strings.TrimSpace(movement.ID) == "" {
		return 0, errors.New("inventory apply: movement id is required")
	}

	var stock int
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.movements.Get(ctx, movement.ID); err == nil {
			return repositories.NewStockError(op, repositories.StockErrorMovementApplied, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
		} else if !pfirestore.IsNotFound(err) {
			return err
		}
		if movement.Requires != "" {
			if _, err := r.movements.Get(ctx, movement.Requires); pfirestore.IsNotFound(err) {
				return repositories.NewStockError(op, repositories.StockErrorMovementMissing, movement.ID, movement.ProductID, movement.VariantID, movement.Delta, 0)
			} else if err != nil {
				return err
			}
		}

		doc, err := r.products.Get(ctx, movement.ProductID)
		if pfirestore.IsNotFound(err) {
			return repositories.NewStockError(op, repositories.StockErrorNoMatch, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
		} else if err != nil {
			return err
		}
		index := -1
		for idx, variant := range doc.Variants {
			if variant.ID == movement.VariantID {
				index = idx
				break
			}
		}
		if index < 0 {
			return repositories.NewStockError(op, repositories.StockErrorNoMatch, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
		}
		current := doc.Variants[index].Stock
		if current+movement.Delta < 0 {
			return repositories.NewStockError(op, repositories.StockErrorInsufficient, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, current)
		}

		doc.Variants[index].Stock = current + movement.Delta
		if err := r.products.Set(ctx, doc.ID, doc); err != nil {
			return err
		}
		if err := r.movements.Create(ctx, movement.ID, movementDocument{
			ProductID: movement.ProductID,
			VariantID: movement.VariantID,
			Delta:     movement.Delta,
			Requires:  movement.Requires,
			CreatedAt: movement.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
		stock = doc.Variants[index].Stock
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	return stock, nil
}

func (r *CatalogRepository) MovementApplied(ctx context.Context, movementID string) (bool, error) {
	_, err := r.movements.Get(ctx, movementID)
	switch {
	case err == nil:
		return true, nil
	case pfirestore.IsNotFound(err):
		return false, nil
	default:
		return false, pfirestore.WrapError("inventory.movement", err)
	}
}
