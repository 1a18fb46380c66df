package services

import (
	"context"
	"time"

	domain "github.com/customwear/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order                  = domain.Order
	OrderItem              = domain.OrderItem
	OrderStatus            = domain.OrderStatus
	PricingSnapshot        = domain.PricingSnapshot
	Address                = domain.Address
	Product                = domain.Product
	Variant                = domain.Variant
	VariantKey             = domain.VariantKey
	CustomizationRule      = domain.CustomizationRule
	CustomizationSelection = domain.CustomizationSelection
	StockIntent            = domain.StockIntent
	SystemHealthReport     = domain.SystemHealthReport
)

// OrderService owns the order lifecycle: creation, the status state machine, tracking,
// cancellation, refunds and payment results.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListUserOrders(ctx context.Context, userID string, limit int) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AddTracking(ctx context.Context, cmd AddTrackingCommand) (Order, error)
	ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (Order, error)
	RecordPaymentResult(ctx context.Context, cmd PaymentResultCommand) (Order, error)
}

// CustomizationPricingService prices decoration selections against the rule grid.
type CustomizationPricingService interface {
	CalculateCustomizationPrice(ctx context.Context, selection CustomizationSelection, baseModelPrice *int64) (CustomizationQuote, error)
	ListRules(ctx context.Context) ([]CustomizationRule, error)
	CreateRule(ctx context.Context, rule CustomizationRule) (CustomizationRule, error)
	UpdateRule(ctx context.Context, rule CustomizationRule) (CustomizationRule, error)
	// Grid returns the effective grid: defaults overlaid with active stored rules.
	Grid(ctx context.Context) (CustomizationGrid, error)
}

// CatalogService reads products and maintains variant identity and stock.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	SaveProduct(ctx context.Context, product Product) (Product, error)
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error)
}

// InventoryService reserves and releases stock through the intent log.
type InventoryService interface {
	Reserve(ctx context.Context, cmd ReserveStockCommand) (StockIntent, error)
	Commit(ctx context.Context, intentID, orderID string) error
	// MarkReleasing records that the intent's stock must be given back. Callers run it in
	// the same unit of work as the cancellation so the sweep can finish an interrupted release.
	MarkReleasing(ctx context.Context, intentID string) error
	Release(ctx context.Context, intentID string) (StockIntent, error)
	// Rollback gives back whatever a failed reservation applied and closes the intent.
	Rollback(ctx context.Context, intentID string, cause error) error
	SweepIntents(ctx context.Context) (SweepResult, error)
}

// DiscountResolver turns a discount code into an amount for a priced order.
type DiscountResolver interface {
	Resolve(ctx context.Context, code string, base int64) (int64, error)
}

// RefundGateway issues refunds with the payment provider that captured the payment.
type RefundGateway interface {
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// SystemService reports readiness.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderItemInput is a requested order line.
type OrderItemInput struct {
	ProductID     string
	Variant       VariantKey
	Quantity      int
	Customization CustomizationSelection
}

// CreateOrderCommand carries everything needed to place an order.
type CreateOrderCommand struct {
	UserID          string
	Items           []OrderItemInput
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   string
	DiscountCode    string
}

// UpdateOrderStatusCommand sets an explicit status.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
	Note    string
}

// CancelOrderCommand cancels a pending or confirmed order.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// AddTrackingCommand attaches carrier tracking and marks the order shipped.
type AddTrackingCommand struct {
	OrderID        string
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	ActorID        string
}

// ProcessRefundCommand refunds part or all of an order total.
type ProcessRefundCommand struct {
	OrderID string
	Amount  int64
	Reason  string
	ActorID string
}

// PaymentResultCommand reports the outcome of a payment attempt.
type PaymentResultCommand struct {
	OrderID       string
	Succeeded     bool
	Provider      string
	TransactionID string
}

// AdjustStockCommand restocks (positive) or writes off (negative) a variant.
type AdjustStockCommand struct {
	ProductID string
	VariantID string
	Delta     int
	Reference string
}

// ReserveStockCommand requests stock for an order about to be persisted.
type ReserveStockCommand struct {
	OrderID string
	Lines   []domain.StockIntentLine
}

// SweepResult summarises a reconciliation pass.
type SweepResult struct {
	Examined   int
	Committed  int
	RolledBack int
	Released   int
	Failed     int
}

// RefundRequest is sent to the payment provider.
type RefundRequest struct {
	OrderID        string
	Provider       string
	TransactionID  string
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult is the provider's acknowledgement.
type RefundResult struct {
	ExternalID  string
	Status      string
	ProcessedAt time.Time
}
