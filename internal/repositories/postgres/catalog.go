package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

// CatalogRepository keeps variants in their own table so stock can be decremented with
// a conditional UPDATE.
type CatalogRepository struct {
	db *sql.DB
}

var (
	_ repositories.CatalogRepository   = (*CatalogRepository)(nil)
	_ repositories.InventoryRepository = (*CatalogRepository)(nil)
)

// NewCatalogRepository constructs the Postgres catalog and inventory repository.
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	const op = "products.get"
	q := conn(ctx, r.db)

	var (
		product domain.Product
		status  string
		rules   []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, status, currency, base_price, sale_price, customization_table, created_at, updated_at
		FROM products WHERE id = $1`, productID).
		Scan(&product.ID, &product.Name, &status, &product.Currency, &product.BasePrice, &product.SalePrice,
			&rules, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return domain.Product{}, wrapError(op, err)
	}
	product.Status = domain.ProductStatus(status)
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &product.CustomizationTable); err != nil {
			return domain.Product{}, fmt.Errorf("%s: decode customization table: %w", op, err)
		}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT variant_id, size, color, material, stock
		FROM product_variants WHERE product_id = $1 ORDER BY position`, productID)
	if err != nil {
		return domain.Product{}, wrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.Size, &v.Color, &v.Material, &v.Stock); err != nil {
			return domain.Product{}, wrapError(op, err)
		}
		product.Variants = append(product.Variants, v)
	}
	return product, wrapError(op, rows.Err())
}

// SaveProduct upserts the product and its variants. Stock of a variant that already
// exists is left alone; it only moves through ApplyMovement.
func (r *CatalogRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	const op = "products.save"
	rules, err := json.Marshal(product.CustomizationTable)
	if err != nil {
		return fmt.Errorf("%s: encode customization table: %w", op, err)
	}
	if product.CustomizationTable == nil {
		rules = []byte("[]")
	}

	err = runInTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO products (id, name, status, currency, base_price, sale_price, customization_table, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, status = EXCLUDED.status, currency = EXCLUDED.currency,
				base_price = EXCLUDED.base_price, sale_price = EXCLUDED.sale_price,
				customization_table = EXCLUDED.customization_table, updated_at = EXCLUDED.updated_at`,
			product.ID, product.Name, string(product.Status), product.Currency, product.BasePrice, product.SalePrice,
			string(rules), product.CreatedAt.UTC(), product.UpdatedAt.UTC(),
		); err != nil {
			return err
		}

		keep := make([]string, 0, len(product.Variants))
		args := []any{product.ID}
		for idx, v := range product.Variants {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO product_variants (product_id, variant_id, position, size, color, material, stock)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (product_id, variant_id) DO UPDATE SET
					position = EXCLUDED.position, size = EXCLUDED.size, color = EXCLUDED.color, material = EXCLUDED.material`,
				product.ID, v.ID, idx, v.Size, v.Color, v.Material, v.Stock,
			); err != nil {
				return err
			}
			args = append(args, v.ID)
			keep = append(keep, fmt.Sprintf("$%d", len(args)))
		}
		query := `DELETE FROM product_variants WHERE product_id = $1`
		if len(keep) > 0 {
			query += ` AND variant_id NOT IN (` + strings.Join(keep, ", ") + `)`
		}
		_, err := q.ExecContext(ctx, query, args...)
		return err
	})
	return wrapError(op, err)
}

// ApplyMovement records the movement and adjusts stock in one transaction. The movement
// insert is the idempotency guard; the conditional UPDATE keeps stock non-negative.
func (r *CatalogRepository) ApplyMovement(ctx context.Context, movement domain.StockMovement) (int, error) {
	const op = "inventory.apply"
	var stock int
	err := runInTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)

		if movement.Requires != "" {
			var found int
			err := q.QueryRowContext(ctx, `SELECT 1 FROM stock_movements WHERE id = $1`, movement.Requires).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.NewStockError(op, repositories.StockErrorMovementMissing, movement.ID, movement.ProductID, movement.VariantID, movement.Delta, 0)
			} else if err != nil {
				return err
			}
		}

		res, err := q.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, variant_id, delta, requires, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			movement.ID, movement.ProductID, movement.VariantID, movement.Delta, movement.Requires, movement.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		if inserted, err := res.RowsAffected(); err != nil {
			return err
		} else if inserted == 0 {
			return repositories.NewStockError(op, repositories.StockErrorMovementApplied, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
		}

		err = q.QueryRowContext(ctx, `
			UPDATE product_variants SET stock = stock + $3
			WHERE product_id = $1 AND variant_id = $2 AND stock + $3 >= 0
			RETURNING stock`,
			movement.ProductID, movement.VariantID, movement.Delta,
		).Scan(&stock)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var available int
		err = q.QueryRowContext(ctx, `SELECT stock FROM product_variants WHERE product_id = $1 AND variant_id = $2`,
			movement.ProductID, movement.VariantID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return repositories.NewStockError(op, repositories.StockErrorNoMatch, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, 0)
		} else if err != nil {
			return err
		}
		return repositories.NewStockError(op, repositories.StockErrorInsufficient, movement.ID, movement.ProductID, movement.VariantID, -movement.Delta, available)
	})
	if err != nil {
		return 0, wrapError(op, err)
	}
	return stock, nil
}

func (r *CatalogRepository) MovementApplied(ctx context.Context, movementID string) (bool, error) {
	var found int
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT 1 FROM stock_movements WHERE id = $1`, movementID).Scan(&found)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, wrapError("inventory.movement", err)
	}
}
