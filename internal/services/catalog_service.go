package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/textutil"
	"github.com/customwear/api/internal/repositories"
)

const maxProductNameLength = 200

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Inventory   repositories.InventoryRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo      repositories.CatalogRepository
	inventory repositories.InventoryRepository
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("catalog service: inventory repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		repo:      deps.Catalog,
		inventory: deps.Inventory,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, validationError("catalog.get", "product_id_required", "product id is required", nil)
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, mapRepositoryError("catalog.get", err, map[string]any{"product_id": productID})
	}
	return product, nil
}

// SaveProduct creates or replaces a product. Variants keep their surrogate id across saves
// when their attribute key still matches; stock of an existing variant only changes through
// AdjustStock.
func (s *catalogService) SaveProduct(ctx context.Context, product Product) (Product, error) {
	const op = "catalog.save"

	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return Product{}, validationError(op, "product_id_required", "product id is required", nil)
	}
	product.Name = textutil.SanitizeLimit(product.Name, maxProductNameLength)
	if product.Name == "" {
		return Product{}, validationError(op, "name_required", "product name is required", nil)
	}
	product.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))
	if product.Currency == "" {
		product.Currency = DefaultPricingPolicy().Currency
	}
	if !currencyPattern.MatchString(product.Currency) {
		return Product{}, validationError(op, "invalid_currency", "currency must be an ISO 4217 code", map[string]any{"currency": product.Currency})
	}
	if product.BasePrice <= 0 {
		return Product{}, validationError(op, "invalid_price", "base price must be positive", nil)
	}
	if product.SalePrice < 0 {
		return Product{}, validationError(op, "invalid_price", "sale price must not be negative", nil)
	}
	switch product.Status {
	case "":
		product.Status = domain.ProductStatusDraft
	case domain.ProductStatusActive, domain.ProductStatusDraft, domain.ProductStatusArchived:
	default:
		return Product{}, validationError(op, "invalid_status", "unknown product status", map[string]any{"status": product.Status})
	}
	if len(product.Variants) == 0 {
		return Product{}, validationError(op, "variants_required", "at least one variant is required", nil)
	}

	existing, err := s.repo.GetProduct(ctx, product.ID)
	switch {
	case err == nil:
	case isNotFound(err):
		existing = Product{}
	default:
		return Product{}, mapRepositoryError(op, err, map[string]any{"product_id": product.ID})
	}

	seen := make(map[VariantKey]int, len(product.Variants))
	variants := make([]Variant, 0, len(product.Variants))
	for idx, variant := range product.Variants {
		variant.Size = textutil.SanitizePlain(variant.Size)
		variant.Color = textutil.SanitizePlain(variant.Color)
		variant.Material = textutil.SanitizePlain(variant.Material)
		key := variant.Key()
		if key.IsZero() {
			return Product{}, validationError(op, "invalid_variant", "variant needs at least one attribute", map[string]any{"variant": idx})
		}
		if variant.Stock < 0 {
			return Product{}, validationError(op, "invalid_stock", "stock must not be negative", map[string]any{"variant": idx})
		}
		normalized := key.Normalize()
		if first, dup := seen[normalized]; dup {
			return Product{}, newError(ErrConflict, op, "duplicate_variant", "two variants share the same attributes", map[string]any{
				"variant": idx,
				"first":   first,
				"key":     key.String(),
			})
		}
		seen[normalized] = idx

		if stored, ok := existing.FindVariant(key); ok {
			variant.ID = stored.ID
			variant.Stock = stored.Stock
		} else if strings.TrimSpace(variant.ID) == "" {
			variant.ID = "var_" + s.newID()
		}
		variants = append(variants, variant)
	}
	product.Variants = variants

	now := s.clock()
	if existing.ID != "" && !existing.CreatedAt.IsZero() {
		product.CreatedAt = existing.CreatedAt
	} else if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	if err := s.repo.SaveProduct(ctx, product); err != nil {
		return Product{}, mapRepositoryError(op, err, map[string]any{"product_id": product.ID})
	}
	s.logger(ctx, "catalog.product.saved", map[string]any{"product_id": product.ID, "variants": len(product.Variants)})
	return product, nil
}

// AdjustStock applies a manual stock movement. Repeating a call with the same reference
// is a no-op.
func (s *catalogService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error) {
	const op = "catalog.adjust_stock"

	cmd.ProductID = strings.TrimSpace(cmd.ProductID)
	cmd.VariantID = strings.TrimSpace(cmd.VariantID)
	if cmd.ProductID == "" || cmd.VariantID == "" {
		return Product{}, validationError(op, "variant_required", "product and variant ids are required", nil)
	}
	if cmd.Delta == 0 {
		return Product{}, validationError(op, "invalid_delta", "delta must not be zero", nil)
	}

	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		reference = s.newID()
	}
	details := map[string]any{"product_id": cmd.ProductID, "variant_id": cmd.VariantID, "delta": cmd.Delta, "reference": reference}

	stock, err := s.inventory.ApplyMovement(ctx, domain.StockMovement{
		ID:        "adj-" + reference,
		ProductID: cmd.ProductID,
		VariantID: cmd.VariantID,
		Delta:     cmd.Delta,
		CreatedAt: s.clock(),
	})
	switch {
	case err == nil:
		s.logger(ctx, "catalog.stock.adjusted", mergeFields(details, map[string]any{"stock": stock}))
	case repositories.IsStockError(err, repositories.StockErrorMovementApplied):
	default:
		return Product{}, mapRepositoryError(op, err, details)
	}
	return s.GetProduct(ctx, cmd.ProductID)
}
