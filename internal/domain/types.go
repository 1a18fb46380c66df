package domain

import (
	"slices"
	"strings"
	"time"
)

// OrderStatus enumerates the canonical lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was accepted and awaits payment or review.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment succeeded or staff confirmed the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared for production.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusProduction indicates garments are being printed or embroidered.
	OrderStatusProduction OrderStatus = "production"
	// OrderStatusShipped indicates the parcel was handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier reported delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and its stock released.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the full order total was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusProduction,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// OrderStatuses returns every valid order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return slices.Clone(orderStatuses)
}

// Valid reports whether the status belongs to the canonical set.
func (s OrderStatus) Valid() bool {
	return slices.Contains(orderStatuses, s)
}

// ParseOrderStatus normalises raw input into a canonical status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// PaymentStatus tracks the payment sub-record of an order.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially-refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

// ItemStatus is the per-line sub-status. Changes to it never produce timeline entries.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProduction ItemStatus = "production"
	ItemStatusShipped    ItemStatus = "shipped"
	ItemStatusDelivered  ItemStatus = "delivered"
	ItemStatusCancelled  ItemStatus = "cancelled"
)

// Order is the persisted aggregate. Timeline and refunds are append-only and must be
// changed through the methods in order.go.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          OrderStatus
	Items           []OrderItem
	Pricing         PricingSnapshot
	ShippingAddress Address
	BillingAddress  Address
	Payment         PaymentRecord
	Tracking        *TrackingInfo
	Timeline        []TimelineEntry
	DiscountCode    string
	ReservationID   string
	CancelReason    string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
}

// OrderItem is a single purchased line with the prices captured at creation time.
type OrderItem struct {
	ProductID              string
	VariantID              string
	Variant                VariantKey
	Quantity               int
	UnitPrice              int64
	Customization          CustomizationSelection
	CustomizationSurcharge int64
	ComboApplied           bool
	Total                  int64
	Status                 ItemStatus
}

// PricingSnapshot holds the monetary breakdown computed once at creation, in minor units.
type PricingSnapshot struct {
	Currency           string
	Subtotal           int64
	CustomizationTotal int64
	Shipping           int64
	Discount           int64
	TaxRate            string
	Tax                int64
	Total              int64
}

// TaxableBase returns subtotal + customization + shipping - discount.
func (p PricingSnapshot) TaxableBase() int64 {
	return p.Subtotal + p.CustomizationTotal + p.Shipping - p.Discount
}

// Balanced reports whether Total matches its components.
func (p PricingSnapshot) Balanced() bool {
	return p.Total == p.TaxableBase()+p.Tax
}

// Address represents a postal address on an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// PaymentRecord is the payment sub-record, including the refund ledger.
type PaymentRecord struct {
	Method        string
	Provider      string
	Status        PaymentStatus
	TransactionID string
	Refunds       []RefundEntry
	PaidAt        *time.Time
}

// RefundEntry records a single processed refund.
type RefundEntry struct {
	ID               string
	Amount           int64
	Reason           string
	ExternalRefundID string
	ProcessedBy      string
	CreatedAt        time.Time
}

// TimelineEntry is one audit record in the order timeline.
type TimelineEntry struct {
	Status      OrderStatus
	Description string
	Actor       string
	Automatic   bool
	CreatedAt   time.Time
}

// TrackingInfo carries carrier details once an order ships.
type TrackingInfo struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	ShippedAt      time.Time
}

// ProductStatus gates whether a product can be ordered.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

// Product is the catalog entry orders are priced against.
type Product struct {
	ID                 string
	Name               string
	Status             ProductStatus
	Currency           string
	BasePrice          int64
	SalePrice          int64
	Variants           []Variant
	CustomizationTable []CustomizationRule
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Variant is a size/color/material combination with its own stock count.
type Variant struct {
	ID       string
	Size     string
	Color    string
	Material string
	Stock    int
}

// StockIntentStatus tracks the progress of a reservation through the intent log.
type StockIntentStatus string

const (
	StockIntentPending    StockIntentStatus = "pending"
	StockIntentCommitted  StockIntentStatus = "committed"
	StockIntentReleasing  StockIntentStatus = "releasing"
	StockIntentReleased   StockIntentStatus = "released"
	StockIntentRolledBack StockIntentStatus = "rolled_back"
)

// StockIntent is the durable record of a reservation, written before any stock moves.
type StockIntent struct {
	ID        string
	OrderID   string
	Status    StockIntentStatus
	Lines     []StockIntentLine
	Anomalies []string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockIntentLine is the stock delta requested for one order item.
type StockIntentLine struct {
	ProductID string
	VariantID string
	Variant   VariantKey
	Quantity  int
}

// StockMovement is an applied, idempotent stock delta. Negative deltas reserve stock and
// positive deltas release it. Requires names a movement that must already exist.
type StockMovement struct {
	ID        string
	ProductID string
	VariantID string
	Delta     int
	Requires  string
	CreatedAt time.Time
}
