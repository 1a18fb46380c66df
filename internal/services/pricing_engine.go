package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
)

const (
	maxOrderLines   = 50
	maxItemQuantity = 99
)

// PricingPolicy holds the business constants applied to every order, in minor units.
type PricingPolicy struct {
	Currency              string
	TaxRate               decimal.Decimal
	ShippingFlat          int64
	FreeShippingThreshold int64
}

// DefaultPricingPolicy returns 20% tax, 5.99 shipping and free shipping above 50.00.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		Currency:              "GBP",
		TaxRate:               decimal.RequireFromString("0.20"),
		ShippingFlat:          599,
		FreeShippingThreshold: 5000,
	}
}

// ShippingFor returns the shipping charge for a subtotal. Only a subtotal strictly above
// the threshold ships free.
func (p PricingPolicy) ShippingFor(subtotal int64) int64 {
	if subtotal > p.FreeShippingThreshold {
		return 0
	}
	return p.ShippingFlat
}

// Snapshot derives the full pricing breakdown from the line aggregates. The discount is
// clamped so the taxable base never goes negative.
func (p PricingPolicy) Snapshot(subtotal, customizationTotal, discount int64) PricingSnapshot {
	shipping := p.ShippingFor(subtotal)
	gross := subtotal + customizationTotal + shipping
	discount = min(max(discount, 0), gross)

	snapshot := PricingSnapshot{
		Currency:           p.Currency,
		Subtotal:           subtotal,
		CustomizationTotal: customizationTotal,
		Shipping:           shipping,
		Discount:           discount,
		TaxRate:            p.TaxRate.String(),
	}
	snapshot.Tax = domain.ApplyRate(snapshot.TaxableBase(), p.TaxRate)
	snapshot.Total = snapshot.TaxableBase() + snapshot.Tax
	return snapshot
}

// PricedOrder is the output of the validation phase: priced lines plus the stock they need.
type PricedOrder struct {
	Items   []OrderItem
	Pricing PricingSnapshot
	Lines   []domain.StockIntentLine
}

// OrderPricingEngineDeps bundles the collaborators of the order pricing engine.
type OrderPricingEngineDeps struct {
	Catalog       repositories.CatalogRepository
	Customization CustomizationPricingService
	Discounts     DiscountResolver
	Policy        *PricingPolicy
}

// OrderPricingEngine validates order lines against the catalog and prices them. It
// performs no writes.
type OrderPricingEngine struct {
	catalog       repositories.CatalogRepository
	customization CustomizationPricingService
	discounts     DiscountResolver
	policy        PricingPolicy
}

// NewOrderPricingEngine constructs the engine.
func NewOrderPricingEngine(deps OrderPricingEngineDeps) (*OrderPricingEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("order pricing engine: catalog repository is required")
	}
	if deps.Customization == nil {
		return nil, errors.New("order pricing engine: customization pricing service is required")
	}
	policy := DefaultPricingPolicy()
	if deps.Policy != nil {
		policy = *deps.Policy
	}
	if strings.TrimSpace(policy.Currency) == "" {
		policy.Currency = DefaultPricingPolicy().Currency
	}
	return &OrderPricingEngine{
		catalog:       deps.Catalog,
		customization: deps.Customization,
		discounts:     deps.Discounts,
		policy:        policy,
	}, nil
}

// Policy returns the policy the engine prices with.
func (e *OrderPricingEngine) Policy() PricingPolicy {
	return e.policy
}

// Price validates every line in order and returns the priced order. Any failing line
// aborts the whole order.
func (e *OrderPricingEngine) Price(ctx context.Context, items []OrderItemInput, discountCode string) (PricedOrder, error) {
	const op = "orders.price"

	if len(items) == 0 {
		return PricedOrder{}, validationError(op, "items_required", "at least one item is required", nil)
	}
	if len(items) > maxOrderLines {
		return PricedOrder{}, validationError(op, "too_many_items", "too many order lines", map[string]any{"max": maxOrderLines})
	}

	grid, err := e.customization.Grid(ctx)
	if err != nil {
		return PricedOrder{}, err
	}

	products := make(map[string]domain.Product, len(items))
	requested := make(map[string]int, len(items))
	priced := PricedOrder{
		Items: make([]OrderItem, 0, len(items)),
		Lines: make([]domain.StockIntentLine, 0, len(items)),
	}
	var subtotal, customizationTotal int64

	for idx, input := range items {
		details := map[string]any{
			"line":       idx,
			"product_id": input.ProductID,
			"variant":    input.Variant.String(),
			"quantity":   input.Quantity,
		}
		if input.Quantity < 1 || input.Quantity > maxItemQuantity {
			return PricedOrder{}, validationError(op, "invalid_quantity", "quantity must be between 1 and 99", details)
		}
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return PricedOrder{}, validationError(op, "product_required", "product id is required", details)
		}

		product, ok := products[productID]
		if !ok {
			product, err = e.catalog.GetProduct(ctx, productID)
			if err != nil {
				if isNotFound(err) {
					return PricedOrder{}, newError(ErrNotFound, op, "product_not_found", "product not found", details).wrap(err)
				}
				return PricedOrder{}, mapRepositoryError(op, err, details)
			}
			products[productID] = product
		}
		if !product.Orderable() {
			return PricedOrder{}, newError(ErrNotFound, op, "product_unavailable", "product is not available for ordering", details)
		}
		if product.Currency != "" && !strings.EqualFold(product.Currency, e.policy.Currency) {
			return PricedOrder{}, validationError(op, "currency_mismatch", "product is priced in another currency", details)
		}

		variant, ok := product.FindVariant(input.Variant)
		if !ok {
			return PricedOrder{}, newError(ErrNotFound, op, "variant_not_found", "variant not found", details)
		}
		details["variant_id"] = variant.ID

		stockKey := productID + "/" + variant.ID
		requested[stockKey] += input.Quantity
		if variant.Stock < requested[stockKey] {
			details["available"] = variant.Stock
			details["requested"] = requested[stockKey]
			return PricedOrder{}, newError(ErrConflict, op, "insufficient_stock", "insufficient stock", details)
		}

		selection, err := NormalizeCustomizationSelection(input.Customization)
		if err != nil {
			if svcErr, ok := AsError(err); ok {
				details["field"] = svcErr.Details["field"]
				svcErr.Details = details
			}
			return PricedOrder{}, err
		}
		surcharge, quote := grid.WithOverrides(product.CustomizationTable).Quote(selection)

		unitPrice := product.EffectivePrice()
		qty := int64(input.Quantity)
		item := OrderItem{
			ProductID:              productID,
			VariantID:              variant.ID,
			Variant:                variant.Key(),
			Quantity:               input.Quantity,
			UnitPrice:              unitPrice,
			Customization:          selection,
			CustomizationSurcharge: surcharge,
			ComboApplied:           quote.ComboApplied,
			Total:                  (unitPrice + surcharge) * qty,
			Status:                 domain.ItemStatusPending,
		}
		subtotal += unitPrice * qty
		customizationTotal += surcharge * qty

		priced.Items = append(priced.Items, item)
		priced.Lines = append(priced.Lines, domain.StockIntentLine{
			ProductID: productID,
			VariantID: variant.ID,
			Variant:   variant.Key(),
			Quantity:  input.Quantity,
		})
	}

	var discount int64
	if code := strings.TrimSpace(discountCode); code != "" {
		if e.discounts == nil {
			return PricedOrder{}, validationError(op, "invalid_discount_code", "discount codes are not accepted", map[string]any{"code": code})
		}
		base := subtotal + customizationTotal + e.policy.ShippingFor(subtotal)
		discount, err = e.discounts.Resolve(ctx, code, base)
		if err != nil {
			return PricedOrder{}, err
		}
	}

	priced.Pricing = e.policy.Snapshot(subtotal, customizationTotal, discount)
	return priced, nil
}
