package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/auth"
	"github.com/customwear/api/internal/platform/httpx"
	"github.com/customwear/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes the order lifecycle over HTTP.
type OrderHandlers struct {
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithCreateMiddleware wraps order creation, typically with the idempotency middleware.
func WithCreateMiddleware(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)

	r.Group(func(staff chi.Router) {
		staff.Use(auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin, auth.RoleSystem))
		staff.Put("/{orderID}/status", h.updateStatus)
		staff.Post("/{orderID}/tracking", h.addTracking)
		staff.Post("/{orderID}/refunds", h.processRefund)
		staff.Post("/{orderID}/payment", h.recordPayment)
	})
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress addressRequest     `json:"shipping_address" validate:"required"`
	BillingAddress  *addressRequest    `json:"billing_address,omitempty" validate:"omitempty"`
	PaymentMethod   string             `json:"payment_method,omitempty" validate:"omitempty,max=40"`
	DiscountCode    string             `json:"discount_code,omitempty" validate:"omitempty,max=40"`
}

type orderItemRequest struct {
	ProductID     string                `json:"product_id" validate:"required,max=128"`
	Size          string                `json:"size" validate:"max=40"`
	Color         string                `json:"color" validate:"max=40"`
	Material      string                `json:"material" validate:"max=40"`
	Quantity      int                   `json:"quantity" validate:"required,min=1,max=999"`
	Customization *customizationRequest `json:"customization,omitempty"`
}

type customizationRequest struct {
	FrontText     string `json:"front_text,omitempty"`
	BackText      string `json:"back_text,omitempty"`
	FrontImageRef string `json:"front_image_ref,omitempty"`
	BackImageRef  string `json:"back_image_ref,omitempty"`
}

func (c *customizationRequest) toSelection() services.CustomizationSelection {
	if c == nil {
		return services.CustomizationSelection{}
	}
	return services.CustomizationSelection{
		FrontText:     c.FrontText,
		BackText:      c.BackText,
		FrontImageRef: c.FrontImageRef,
		BackImageRef:  c.BackImageRef,
	}
}

type addressRequest struct {
	Recipient  string `json:"recipient" validate:"required,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty" validate:"max=32"`
}

func (a addressRequest) toAddress() services.Address {
	return services.Address{
		Recipient:  a.Recipient,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note,omitempty" validate:"max=500"`
}

type trackingRequest struct {
	Carrier        string `json:"carrier" validate:"required,max=60"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=80"`
	TrackingURL    string `json:"tracking_url,omitempty" validate:"omitempty,url,max=512"`
}

type refundRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type paymentResultRequest struct {
	Succeeded     bool   `json:"succeeded"`
	Provider      string `json:"provider" validate:"required,max=40"`
	TransactionID string `json:"transaction_id,omitempty" validate:"max=128"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID:     item.ProductID,
			Variant:       services.VariantKey{Size: item.Size, Color: item.Color, Material: item.Material},
			Quantity:      item.Quantity,
			Customization: item.Customization.toSelection(),
		})
	}
	cmd := services.CreateOrderCommand{
		UserID:          identity.UID,
		Items:           items,
		ShippingAddress: req.ShippingAddress.toAddress(),
		PaymentMethod:   req.PaymentMethod,
		DiscountCode:    req.DiscountCode,
	}
	if req.BillingAddress != nil {
		cmd.BillingAddress = req.BillingAddress.toAddress()
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
		case size > maxOrderPageSize:
			limit = maxOrderPageSize
		default:
			limit = size
		}
	}

	orders, err := h.orders.ListUserOrders(ctx, identity.UID, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.loadOwnedOrder(ctx, w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cancelOrderRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	order, ok := h.loadOwnedOrder(ctx, w, r)
	if !ok {
		return
	}

	cancelled, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: order.ID,
		ActorID: auth.ActorID(ctx),
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

// loadOwnedOrder fetches the path order for its owner or staff. Other callers see 404 so
// order ids cannot be probed.
func (h *OrderHandlers) loadOwnedOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return services.Order{}, false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return services.Order{}, false
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return services.Order{}, false
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Order{}, false
	}
	if !identity.IsStaff() && order.UserID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest).
			WithDetails(map[string]any{"allowed": domain.OrderStatuses()}))
		return
	}

	order, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  status,
		ActorID: auth.ActorID(ctx),
		Note:    req.Note,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req trackingRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	order, err := h.orders.AddTracking(ctx, services.AddTrackingCommand{
		OrderID:        orderID,
		Carrier:        req.Carrier,
		TrackingNumber: req.TrackingNumber,
		TrackingURL:    req.TrackingURL,
		ActorID:        auth.ActorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req refundRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	amount, ok := parseMoney(ctx, w, "amount", req.Amount)
	if !ok {
		return
	}

	order, err := h.orders.ProcessRefund(ctx, services.ProcessRefundCommand{
		OrderID: orderID,
		Amount:  amount,
		Reason:  req.Reason,
		ActorID: auth.ActorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req paymentResultRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	order, err := h.orders.RecordPaymentResult(ctx, services.PaymentResultCommand{
		OrderID:       orderID,
		Succeeded:     req.Succeeded,
		Provider:      req.Provider,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	UserID          string                 `json:"user_id"`
	Status          string                 `json:"status"`
	Items           []orderItemPayload     `json:"items"`
	Pricing         orderPricingPayload    `json:"pricing"`
	ShippingAddress addressPayload         `json:"shipping_address"`
	BillingAddress  addressPayload         `json:"billing_address"`
	Payment         orderPaymentPayload    `json:"payment"`
	Tracking        *trackingPayload       `json:"tracking,omitempty"`
	Timeline        []timelineEntryPayload `json:"timeline"`
	DiscountCode    string                 `json:"discount_code,omitempty"`
	CancelReason    string                 `json:"cancel_reason,omitempty"`
	Version         int64                  `json:"version"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
	CancelledAt     string                 `json:"cancelled_at,omitempty"`
	ShippedAt       string                 `json:"shipped_at,omitempty"`
	DeliveredAt     string                 `json:"delivered_at,omitempty"`
}

type orderItemPayload struct {
	ProductID              string                `json:"product_id"`
	VariantID              string                `json:"variant_id"`
	Size                   string                `json:"size"`
	Color                  string                `json:"color"`
	Material               string                `json:"material"`
	Quantity               int                   `json:"quantity"`
	UnitPrice              string                `json:"unit_price"`
	Customization          *customizationRequest `json:"customization,omitempty"`
	CustomizationSurcharge string                `json:"customization_surcharge"`
	ComboApplied           bool                  `json:"combo_applied"`
	Total                  string                `json:"total"`
	Status                 string                `json:"status"`
}

type orderPricingPayload struct {
	Currency           string `json:"currency"`
	Subtotal           string `json:"subtotal"`
	CustomizationTotal string `json:"customization_total"`
	Shipping           string `json:"shipping"`
	Discount           string `json:"discount"`
	TaxRate            string `json:"tax_rate"`
	Tax                string `json:"tax"`
	Total              string `json:"total"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type orderPaymentPayload struct {
	Method           string          `json:"method,omitempty"`
	Provider         string          `json:"provider,omitempty"`
	Status           string          `json:"status"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	PaidAt           string          `json:"paid_at,omitempty"`
	Refunds          []refundPayload `json:"refunds"`
	RefundedAmount   string          `json:"refunded_amount"`
	RefundableAmount string          `json:"refundable_amount"`
}

type refundPayload struct {
	ID               string `json:"id"`
	Amount           string `json:"amount"`
	Reason           string `json:"reason,omitempty"`
	ExternalRefundID string `json:"external_refund_id,omitempty"`
	ProcessedBy      string `json:"processed_by,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type trackingPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	ShippedAt      string `json:"shipped_at"`
}

type timelineEntryPayload struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Actor       string `json:"actor,omitempty"`
	Automatic   bool   `json:"automatic"`
	CreatedAt   string `json:"created_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		Timeline:        make([]timelineEntryPayload, 0, len(order.Timeline)),
		DiscountCode:    order.DiscountCode,
		CancelReason:    order.CancelReason,
		Version:         order.Version,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
		ShippedAt:       formatTimePtr(order.ShippedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
	}

	for _, item := range order.Items {
		line := orderItemPayload{
			ProductID:              item.ProductID,
			VariantID:              item.VariantID,
			Size:                   item.Variant.Size,
			Color:                  item.Variant.Color,
			Material:               item.Variant.Material,
			Quantity:               item.Quantity,
			UnitPrice:              money(item.UnitPrice),
			CustomizationSurcharge: money(item.CustomizationSurcharge),
			ComboApplied:           item.ComboApplied,
			Total:                  money(item.Total),
			Status:                 string(item.Status),
		}
		if !item.Customization.Empty() {
			line.Customization = &customizationRequest{
				FrontText:     item.Customization.FrontText,
				BackText:      item.Customization.BackText,
				FrontImageRef: item.Customization.FrontImageRef,
				BackImageRef:  item.Customization.BackImageRef,
			}
		}
		payload.Items = append(payload.Items, line)
	}

	p := order.Pricing
	payload.Pricing = orderPricingPayload{
		Currency:           p.Currency,
		Subtotal:           money(p.Subtotal),
		CustomizationTotal: money(p.CustomizationTotal),
		Shipping:           money(p.Shipping),
		Discount:           money(p.Discount),
		TaxRate:            p.TaxRate,
		Tax:                money(p.Tax),
		Total:              money(p.Total),
	}

	payload.Payment = orderPaymentPayload{
		Method:           order.Payment.Method,
		Provider:         order.Payment.Provider,
		Status:           string(order.Payment.Status),
		TransactionID:    order.Payment.TransactionID,
		PaidAt:           formatTimePtr(order.Payment.PaidAt),
		Refunds:          make([]refundPayload, 0, len(order.Payment.Refunds)),
		RefundedAmount:   money(order.RefundedAmount()),
		RefundableAmount: money(order.RefundableAmount()),
	}
	for _, refund := range order.Payment.Refunds {
		payload.Payment.Refunds = append(payload.Payment.Refunds, refundPayload{
			ID:               refund.ID,
			Amount:           money(refund.Amount),
			Reason:           refund.Reason,
			ExternalRefundID: refund.ExternalRefundID,
			ProcessedBy:      refund.ProcessedBy,
			CreatedAt:        formatTime(refund.CreatedAt),
		})
	}

	if order.Tracking != nil {
		payload.Tracking = &trackingPayload{
			Carrier:        order.Tracking.Carrier,
			TrackingNumber: order.Tracking.TrackingNumber,
			TrackingURL:    order.Tracking.TrackingURL,
			ShippedAt:      formatTime(order.Tracking.ShippedAt),
		}
	}

	for _, entry := range order.Timeline {
		payload.Timeline = append(payload.Timeline, timelineEntryPayload{
			Status:      string(entry.Status),
			Description: entry.Description,
			Actor:       entry.Actor,
			Automatic:   entry.Automatic,
			CreatedAt:   formatTime(entry.CreatedAt),
		})
	}
	return payload
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
