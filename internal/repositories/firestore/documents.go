package firestore

import (
	"time"

	domain "github.com/customwear/api/internal/domain"
)

type orderDocument struct {
	ID              string              `firestore:"id"`
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	Status          string              `firestore:"status"`
	Items           []orderItemDocument `firestore:"items"`
	Pricing         pricingDocument     `firestore:"pricing"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	Payment         paymentDocument     `firestore:"payment"`
	Tracking        *trackingDocument   `firestore:"tracking,omitempty"`
	Timeline        []timelineDocument  `firestore:"timeline"`
	DiscountCode    string              `firestore:"discountCode,omitempty"`
	ReservationID   string              `firestore:"reservationId,omitempty"`
	CancelReason    string              `firestore:"cancelReason,omitempty"`
	Version         int64               `firestore:"version"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
}

type orderItemDocument struct {
	ProductID              string                `firestore:"productId"`
	VariantID              string                `firestore:"variantId"`
	Variant                variantKeyDocument    `firestore:"variant"`
	Quantity               int                   `firestore:"quantity"`
	UnitPrice              int64                 `firestore:"unitPrice"`
	Customization          customizationDocument `firestore:"customization"`
	CustomizationSurcharge int64                 `firestore:"customizationSurcharge"`
	ComboApplied           bool                  `firestore:"comboApplied"`
	Total                  int64                 `firestore:"total"`
	Status                 string                `firestore:"status"`
}

type variantKeyDocument struct {
	Size     string `firestore:"size"`
	Color    string `firestore:"color"`
	Material string `firestore:"material"`
}

type customizationDocument struct {
	FrontText     string `firestore:"frontText,omitempty"`
	BackText      string `firestore:"backText,omitempty"`
	FrontImageRef string `firestore:"frontImageRef,omitempty"`
	BackImageRef  string `firestore:"backImageRef,omitempty"`
}

type pricingDocument struct {
	Currency           string `firestore:"currency"`
	Subtotal           int64  `firestore:"subtotal"`
	CustomizationTotal int64  `firestore:"customizationTotal"`
	Shipping           int64  `firestore:"shipping"`
	Discount           int64  `firestore:"discount"`
	TaxRate            string `firestore:"taxRate"`
	Tax                int64  `firestore:"tax"`
	Total              int64  `firestore:"total"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type paymentDocument struct {
	Method        string           `firestore:"method"`
	Provider      string           `firestore:"provider,omitempty"`
	Status        string           `firestore:"status"`
	TransactionID string           `firestore:"transactionId,omitempty"`
	Refunds       []refundDocument `firestore:"refunds"`
	PaidAt        *time.Time       `firestore:"paidAt,omitempty"`
}

type refundDocument struct {
	ID               string    `firestore:"id"`
	Amount           int64     `firestore:"amount"`
	Reason           string    `firestore:"reason"`
	ExternalRefundID string    `firestore:"externalRefundId,omitempty"`
	ProcessedBy      string    `firestore:"processedBy"`
	CreatedAt        time.Time `firestore:"createdAt"`
}

type timelineDocument struct {
	Status      string    `firestore:"status"`
	Description string    `firestore:"description"`
	Actor       string    `firestore:"actor"`
	Automatic   bool      `firestore:"automatic"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

type trackingDocument struct {
	Carrier        string    `firestore:"carrier"`
	TrackingNumber string    `firestore:"trackingNumber"`
	TrackingURL    string    `firestore:"trackingUrl,omitempty"`
	ShippedAt      time.Time `firestore:"shippedAt"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type productDocument struct {
	ID                 string            `firestore:"id"`
	Name               string            `firestore:"name"`
	Status             string            `firestore:"status"`
	Currency           string            `firestore:"currency"`
	BasePrice          int64             `firestore:"basePrice"`
	SalePrice          int64             `firestore:"salePrice"`
	Variants           []variantDocument `firestore:"variants"`
	CustomizationTable []ruleDocument    `firestore:"customizationTable,omitempty"`
	CreatedAt          time.Time         `firestore:"createdAt"`
	UpdatedAt          time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	ID       string `firestore:"id"`
	Size     string `firestore:"size"`
	Color    string `firestore:"color"`
	Material string `firestore:"material"`
	Stock    int    `firestore:"stock"`
}

type movementDocument struct {
	ProductID string    `firestore:"productId"`
	VariantID string    `firestore:"variantId"`
	Delta     int       `firestore:"delta"`
	Requires  string    `firestore:"requires,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type intentDocument struct {
	ID        string               `firestore:"id"`
	OrderID   string               `firestore:"orderId"`
	Status    string               `firestore:"status"`
	Lines     []intentLineDocument `firestore:"lines"`
	Anomalies []string             `firestore:"anomalies"`
	LastError string               `firestore:"lastError,omitempty"`
	CreatedAt time.Time            `firestore:"createdAt"`
	UpdatedAt time.Time            `firestore:"updatedAt"`
}

type intentLineDocument struct {
	ProductID string             `firestore:"productId"`
	VariantID string             `firestore:"variantId"`
	Variant   variantKeyDocument `firestore:"variant"`
	Quantity  int                `firestore:"quantity"`
}

type ruleDocument struct {
	Type      string    `firestore:"type"`
	Placement string    `firestore:"placement"`
	Price     int64     `firestore:"price"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		Items:           make([]orderItemDocument, 0, len(order.Items)),
		Pricing:         pricingDocument(order.Pricing),
		ShippingAddress: addressDocument(order.ShippingAddress),
		BillingAddress:  addressDocument(order.BillingAddress),
		Payment: paymentDocument{
			Method:        order.Payment.Method,
			Provider:      order.Payment.Provider,
			Status:        string(order.Payment.Status),
			TransactionID: order.Payment.TransactionID,
			Refunds:       make([]refundDocument, 0, len(order.Payment.Refunds)),
			PaidAt:        order.Payment.PaidAt,
		},
		Timeline:      make([]timelineDocument, 0, len(order.Timeline)),
		DiscountCode:  order.DiscountCode,
		ReservationID: order.ReservationID,
		CancelReason:  order.CancelReason,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		CancelledAt:   order.CancelledAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:              item.ProductID,
			VariantID:              item.VariantID,
			Variant:                variantKeyDocument(item.Variant),
			Quantity:               item.Quantity,
			UnitPrice:              item.UnitPrice,
			Customization:          customizationDocument(item.Customization),
			CustomizationSurcharge: item.CustomizationSurcharge,
			ComboApplied:           item.ComboApplied,
			Total:                  item.Total,
			Status:                 string(item.Status),
		})
	}
	for _, refund := range order.Payment.Refunds {
		doc.Payment.Refunds = append(doc.Payment.Refunds, refundDocument(refund))
	}
	for _, entry := range order.Timeline {
		doc.Timeline = append(doc.Timeline, timelineDocument{
			Status:      string(entry.Status),
			Description: entry.Description,
			Actor:       entry.Actor,
			Automatic:   entry.Automatic,
			CreatedAt:   entry.CreatedAt.UTC(),
		})
	}
	if order.Tracking != nil {
		tracking := trackingDocument(*order.Tracking)
		doc.Tracking = &tracking
	}
	return doc
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		ID:              d.ID,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		Status:          domain.OrderStatus(d.Status),
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		Pricing:         domain.PricingSnapshot(d.Pricing),
		ShippingAddress: domain.Address(d.ShippingAddress),
		BillingAddress:  domain.Address(d.BillingAddress),
		Payment: domain.PaymentRecord{
			Method:        d.Payment.Method,
			Provider:      d.Payment.Provider,
			Status:        domain.PaymentStatus(d.Payment.Status),
			TransactionID: d.Payment.TransactionID,
			PaidAt:        utcPtr(d.Payment.PaidAt),
		},
		DiscountCode:  d.DiscountCode,
		ReservationID: d.ReservationID,
		CancelReason:  d.CancelReason,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
		CancelledAt:   utcPtr(d.CancelledAt),
		ShippedAt:     utcPtr(d.ShippedAt),
		DeliveredAt:   utcPtr(d.DeliveredAt),
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:              item.ProductID,
			VariantID:              item.VariantID,
			Variant:                domain.VariantKey(item.Variant),
			Quantity:               item.Quantity,
			UnitPrice:              item.UnitPrice,
			Customization:          domain.CustomizationSelection(item.Customization),
			CustomizationSurcharge: item.CustomizationSurcharge,
			ComboApplied:           item.ComboApplied,
			Total:                  item.Total,
			Status:                 domain.ItemStatus(item.Status),
		})
	}
	for _, refund := range d.Payment.Refunds {
		entry := domain.RefundEntry(refund)
		entry.CreatedAt = entry.CreatedAt.UTC()
		order.Payment.Refunds = append(order.Payment.Refunds, entry)
	}
	for _, entry := range d.Timeline {
		order.Timeline = append(order.Timeline, domain.TimelineEntry{
			Status:      domain.OrderStatus(entry.Status),
			Description: entry.Description,
			Actor:       entry.Actor,
			Automatic:   entry.Automatic,
			CreatedAt:   entry.CreatedAt.UTC(),
		})
	}
	if d.Tracking != nil {
		tracking := domain.TrackingInfo(*d.Tracking)
		tracking.ShippedAt = tracking.ShippedAt.UTC()
		order.Tracking = &tracking
	}
	return order
}

func newProductDocument(product domain.Product) productDocument {
	doc := productDocument{
		ID:        product.ID,
		Name:      product.Name,
		Status:    string(product.Status),
		Currency:  product.Currency,
		BasePrice: product.BasePrice,
		SalePrice: product.SalePrice,
		Variants:  make([]variantDocument, 0, len(product.Variants)),
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: product.UpdatedAt.UTC(),
	}
	for _, variant := range product.Variants {
		doc.Variants = append(doc.Variants, variantDocument(variant))
	}
	for _, rule := range product.CustomizationTable {
		doc.CustomizationTable = append(doc.CustomizationTable, newRuleDocument(rule))
	}
	return doc
}

func (d productDocument) toDomain() domain.Product {
	product := domain.Product{
		ID:        d.ID,
		Name:      d.Name,
		Status:    domain.ProductStatus(d.Status),
		Currency:  d.Currency,
		BasePrice: d.BasePrice,
		SalePrice: d.SalePrice,
		Variants:  make([]domain.Variant, 0, len(d.Variants)),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	for _, variant := range d.Variants {
		product.Variants = append(product.Variants, domain.Variant(variant))
	}
	for _, rule := range d.CustomizationTable {
		product.CustomizationTable = append(product.CustomizationTable, rule.toDomain())
	}
	return product
}

func newIntentDocument(intent domain.StockIntent) intentDocument {
	doc := intentDocument{
		ID:        intent.ID,
		OrderID:   intent.OrderID,
		Status:    string(intent.Status),
		Lines:     make([]intentLineDocument, 0, len(intent.Lines)),
		Anomalies: append([]string{}, intent.Anomalies...),
		LastError: intent.LastError,
		CreatedAt: intent.CreatedAt.UTC(),
		UpdatedAt: intent.UpdatedAt.UTC(),
	}
	for _, line := range intent.Lines {
		doc.Lines = append(doc.Lines, intentLineDocument{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Variant:   variantKeyDocument(line.Variant),
			Quantity:  line.Quantity,
		})
	}
	return doc
}

func (d intentDocument) toDomain() domain.StockIntent {
	intent := domain.StockIntent{
		ID:        d.ID,
		OrderID:   d.OrderID,
		Status:    domain.StockIntentStatus(d.Status),
		Lines:     make([]domain.StockIntentLine, 0, len(d.Lines)),
		Anomalies: append([]string(nil), d.Anomalies...),
		LastError: d.LastError,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	for _, line := range d.Lines {
		intent.Lines = append(intent.Lines, domain.StockIntentLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Variant:   domain.VariantKey(line.Variant),
			Quantity:  line.Quantity,
		})
	}
	return intent
}

func newRuleDocument(rule domain.CustomizationRule) ruleDocument {
	return ruleDocument{
		Type:      string(rule.Type),
		Placement: string(rule.Placement),
		Price:     rule.Price,
		Active:    rule.Active,
		UpdatedAt: rule.UpdatedAt.UTC(),
	}
}

func (d ruleDocument) toDomain() domain.CustomizationRule {
	return domain.CustomizationRule{
		Type:      domain.CustomizationType(d.Type),
		Placement: domain.Placement(d.Placement),
		Price:     d.Price,
		Active:    d.Active,
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	value := ts.UTC()
	return &value
}
