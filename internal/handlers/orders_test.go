package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/auth"
	"github.com/customwear/api/internal/platform/idempotency"
	"github.com/customwear/api/internal/services"
)

type stubOrderService struct {
	orders map[string]services.Order

	createCalls int
	lastCreate  services.CreateOrderCommand
	lastStatus  services.UpdateOrderStatusCommand
	lastCancel  services.CancelOrderCommand
	lastRefund  services.ProcessRefundCommand
	lastPayment services.PaymentResultCommand
	lastTrack   services.AddTrackingCommand
	lastLimit   int
	err         error
}

func newStubOrderService(orders ...services.Order) *stubOrderService {
	s := &stubOrderService{orders: make(map[string]services.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubOrderService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	s.createCalls++
	s.lastCreate = cmd
	if s.err != nil {
		return services.Order{}, s.err
	}
	order := sampleOrder("ord_new", cmd.UserID)
	s.orders[order.ID] = order
	return order, nil
}

func (s *stubOrderService) GetOrder(_ context.Context, orderID string) (services.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return services.Order{}, &services.Error{Kind: services.ErrNotFound, Code: "order_not_found", Message: "order not found"}
	}
	return order, nil
}

func (s *stubOrderService) ListUserOrders(_ context.Context, userID string, limit int) ([]services.Order, error) {
	s.lastLimit = limit
	var out []services.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, s.err
}

func (s *stubOrderService) UpdateOrderStatus(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	s.lastStatus = cmd
	if s.err != nil {
		return services.Order{}, s.err
	}
	order := s.orders[cmd.OrderID]
	order.Status = cmd.Status
	return order, nil
}

func (s *stubOrderService) CancelOrder(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	s.lastCancel = cmd
	if s.err != nil {
		return services.Order{}, s.err
	}
	order := s.orders[cmd.OrderID]
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = cmd.Reason
	return order, nil
}

func (s *stubOrderService) AddTracking(_ context.Context, cmd services.AddTrackingCommand) (services.Order, error) {
	s.lastTrack = cmd
	order := s.orders[cmd.OrderID]
	order.Tracking = &domain.TrackingInfo{Carrier: cmd.Carrier, TrackingNumber: cmd.TrackingNumber, ShippedAt: order.CreatedAt}
	order.Status = domain.OrderStatusShipped
	return order, s.err
}

func (s *stubOrderService) ProcessRefund(_ context.Context, cmd services.ProcessRefundCommand) (services.Order, error) {
	s.lastRefund = cmd
	if s.err != nil {
		return services.Order{}, s.err
	}
	order := s.orders[cmd.OrderID]
	order.Payment.Refunds = append(order.Payment.Refunds, domain.RefundEntry{ID: "ref_1", Amount: cmd.Amount, CreatedAt: order.CreatedAt})
	return order, nil
}

func (s *stubOrderService) RecordPaymentResult(_ context.Context, cmd services.PaymentResultCommand) (services.Order, error) {
	s.lastPayment = cmd
	return s.orders[cmd.OrderID], s.err
}

var _ services.OrderService = (*stubOrderService)(nil)

func sampleOrder(id, userID string) services.Order {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          id,
		OrderNumber: "CW-20240301-000001",
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		Items: []domain.OrderItem{{
			ProductID: "prod_tee",
			VariantID: "var_1",
			Variant:   domain.VariantKey{Size: "M", Color: "black"},
			Quantity:  2,
			UnitPrice: 2500,
			Customization: domain.CustomizationSelection{
				FrontText: "HELLO",
			},
			CustomizationSurcharge: 500,
			Total:                  6000,
			Status:                 domain.ItemStatusPending,
		}},
		Pricing: domain.PricingSnapshot{
			Currency:           "USD",
			Subtotal:           5000,
			CustomizationTotal: 1000,
			Shipping:           500,
			TaxRate:            "0.1",
			Tax:                650,
			Total:              7150,
		},
		ShippingAddress: domain.Address{Recipient: "Ada", Line1: "1 Loop", City: "Springfield", PostalCode: "12345", Country: "US"},
		Payment:         domain.PaymentRecord{Method: "card", Status: domain.PaymentStatusPending},
		Timeline:        []domain.TimelineEntry{{Status: domain.OrderStatusPending, Description: "Order placed", Actor: userID, CreatedAt: created}},
		Version:         1,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func newOrderRouter(svc services.OrderService, identity *auth.Identity, opts ...OrderHandlersOption) http.Handler {
	h := NewOrderHandlers(svc, opts...)
	return NewRouter(
		WithMiddlewares(withIdentity(identity)),
		WithOrderRoutes(h.Routes),
	)
}

func validCreateBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{{
			"product_id": "prod_tee",
			"size":       "M",
			"color":      "black",
			"quantity":   2,
			"customization": map[string]any{
				"front_text": "HELLO",
			},
		}},
		"shipping_address": map[string]any{
			"recipient":   "Ada",
			"line1":       "1 Loop",
			"city":        "Springfield",
			"postal_code": "12345",
			"country":     "US",
		},
		"payment_method": "card",
	}
}

func TestCreateOrderMapsRequestAndRendersMoney(t *testing.T) {
	svc := newStubOrderService()
	router := newOrderRouter(svc, asCustomer("user_1"))

	rr := serve(t, router, http.MethodPost, "/api/v1/orders", validCreateBody())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/v1/orders/ord_new", rr.Header().Get("Location"))

	require.Len(t, svc.lastCreate.Items, 1)
	assert.Equal(t, "user_1", svc.lastCreate.UserID)
	assert.Equal(t, "prod_tee", svc.lastCreate.Items[0].ProductID)
	assert.Equal(t, "M", svc.lastCreate.Items[0].Variant.Size)
	assert.Equal(t, "HELLO", svc.lastCreate.Items[0].Customization.FrontText)
	assert.Equal(t, "Ada", svc.lastCreate.ShippingAddress.Recipient)

	body := decodeBody[orderResponse](t, rr)
	assert.Equal(t, "71.50", body.Order.Pricing.Total)
	assert.Equal(t, "0.1", body.Order.Pricing.TaxRate)
	assert.Equal(t, "25.00", body.Order.Items[0].UnitPrice)
	assert.Equal(t, "71.50", body.Order.Payment.RefundableAmount)
	require.NotNil(t, body.Order.Items[0].Customization)
	assert.Equal(t, "HELLO", body.Order.Items[0].Customization.FrontText)
}

func TestCreateOrderRequiresIdentity(t *testing.T) {
	svc := newStubOrderService()
	rr := serve(t, newOrderRouter(svc, nil), http.MethodPost, "/api/v1/orders", validCreateBody())
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, svc.createCalls)
}

func TestCreateOrderValidationFailures(t *testing.T) {
	svc := newStubOrderService()
	router := newOrderRouter(svc, asCustomer("user_1"))

	body := validCreateBody()
	body["items"] = []map[string]any{}
	rr := serve(t, router, http.MethodPost, "/api/v1/orders", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeBody[errorEnvelope](t, rr)
	assert.Equal(t, "validation_failed", env.Error)
	fields, ok := env.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "min", fields["items"])

	rr = serve(t, router, http.MethodPost, "/api/v1/orders", `{"items":[],"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decodeBody[errorEnvelope](t, rr).Error)

	rr = serve(t, router, http.MethodPost, "/api/v1/orders", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, svc.createCalls)
}

func TestCreateOrderMapsServiceErrors(t *testing.T) {
	svc := newStubOrderService()
	svc.err = &services.Error{
		Kind:    services.ErrConflict,
		Code:    "insufficient_stock",
		Message: "not enough stock",
		Details: map[string]any{"product_id": "prod_tee"},
	}
	rr := serve(t, newOrderRouter(svc, asCustomer("user_1")), http.MethodPost, "/api/v1/orders", validCreateBody())
	require.Equal(t, http.StatusConflict, rr.Code)
	env := decodeBody[errorEnvelope](t, rr)
	assert.Equal(t, "insufficient_stock", env.Error)
	assert.Equal(t, "prod_tee", env.Details["product_id"])
}

func TestCreateOrderReplaysWithIdempotencyKey(t *testing.T) {
	svc := newStubOrderService()
	store := idempotency.NewMemoryStore()
	router := newOrderRouter(svc, asCustomer("user_1"), WithCreateMiddleware(idempotency.Middleware(store)))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonReader(t, validCreateBody()))
		req.Header.Set("Idempotency-Key", "key-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotency.ReplayHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, svc.createCalls)
}

func TestGetOrderHidesOtherCustomersOrders(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))

	rr := serve(t, newOrderRouter(svc, asCustomer("user_1")), http.MethodGet, "/api/v1/orders/ord_1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ord_1", decodeBody[orderResponse](t, rr).Order.ID)

	rr = serve(t, newOrderRouter(svc, asCustomer("user_2")), http.MethodGet, "/api/v1/orders/ord_1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(t, newOrderRouter(svc, asStaff("staff_1")), http.MethodGet, "/api/v1/orders/ord_1", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, newOrderRouter(svc, asCustomer("user_1")), http.MethodGet, "/api/v1/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "order_not_found", decodeBody[errorEnvelope](t, rr).Error)
}

func TestListOrdersClampsLimit(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"), sampleOrder("ord_2", "user_2"))
	router := newOrderRouter(svc, asCustomer("user_1"))

	rr := serve(t, router, http.MethodGet, "/api/v1/orders?limit=500", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, maxOrderPageSize, svc.lastLimit)
	assert.Len(t, decodeBody[orderListResponse](t, rr).Items, 1)

	rr = serve(t, router, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultOrderPageSize, svc.lastLimit)

	rr = serve(t, router, http.MethodGet, "/api/v1/orders?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelOrderByOwner(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))

	rr := serve(t, newOrderRouter(svc, asCustomer("user_1")), http.MethodPost, "/api/v1/orders/ord_1:cancel", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "user_1", svc.lastCancel.ActorID)
	assert.Equal(t, "changed my mind", svc.lastCancel.Reason)
	assert.Equal(t, string(domain.OrderStatusCancelled), decodeBody[orderResponse](t, rr).Order.Status)

	svc.lastCancel = services.CancelOrderCommand{}
	rr = serve(t, newOrderRouter(svc, asCustomer("user_2")), http.MethodPost, "/api/v1/orders/ord_1:cancel", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, svc.lastCancel.OrderID)
}

func TestCancelOrderInvalidStateIsConflict(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))
	svc.err = &services.Error{Kind: services.ErrInvalidState, Code: "order_not_cancellable", Message: "order can no longer be cancelled"}

	rr := serve(t, newOrderRouter(svc, asCustomer("user_1")), http.MethodPost, "/api/v1/orders/ord_1:cancel", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "order_not_cancellable", decodeBody[errorEnvelope](t, rr).Error)
}

func TestStaffRoutesRequireStaffRole(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))
	router := newOrderRouter(svc, asCustomer("user_1"))

	rr := serve(t, router, http.MethodPut, "/api/v1/orders/ord_1/status", map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = serve(t, router, http.MethodPost, "/api/v1/orders/ord_1/refunds", map[string]any{"amount": "1.00"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, svc.lastRefund.OrderID)
}

func TestUpdateStatus(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))
	router := newOrderRouter(svc, asStaff("staff_1"))

	rr := serve(t, router, http.MethodPut, "/api/v1/orders/ord_1/status", map[string]any{"status": "Confirmed", "note": "ok"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.OrderStatusConfirmed, svc.lastStatus.Status)
	assert.Equal(t, "staff_1", svc.lastStatus.ActorID)

	rr = serve(t, router, http.MethodPut, "/api/v1/orders/ord_1/status", map[string]any{"status": "teleported"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody[errorEnvelope](t, rr).Details, "allowed")
}

func TestAddTracking(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))
	router := newOrderRouter(svc, asStaff("staff_1"))

	rr := serve(t, router, http.MethodPost, "/api/v1/orders/ord_1/tracking", map[string]any{
		"carrier":         "UPS",
		"tracking_number": "1Z999",
		"tracking_url":    "https://track.example/1Z999",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "UPS", svc.lastTrack.Carrier)
	body := decodeBody[orderResponse](t, rr)
	require.NotNil(t, body.Order.Tracking)
	assert.Equal(t, "1Z999", body.Order.Tracking.TrackingNumber)

	rr = serve(t, router, http.MethodPost, "/api/v1/orders/ord_1/tracking", map[string]any{"carrier": "UPS", "tracking_number": "1", "tracking_url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProcessRefundParsesDecimalAmount(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))
	router := newOrderRouter(svc, asStaff("staff_1"))

	rr := serve(t, router, http.MethodPost, "/api/v1/orders/ord_1/refunds", map[string]any{"amount": "12.50", "reason": "damaged"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(1250), svc.lastRefund.Amount)
	assert.Equal(t, "staff_1", svc.lastRefund.ActorID)
	body := decodeBody[orderResponse](t, rr)
	require.Len(t, body.Order.Payment.Refunds, 1)
	assert.Equal(t, "12.50", body.Order.Payment.Refunds[0].Amount)
	assert.Equal(t, "12.50", body.Order.Payment.RefundedAmount)

	rr = serve(t, router, http.MethodPost, "/api/v1/orders/ord_1/refunds", map[string]any{"amount": "1.234"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "amount", decodeBody[errorEnvelope](t, rr).Details["field"])
}

func TestRecordPaymentAllowsSystemRole(t *testing.T) {
	svc := newStubOrderService(sampleOrder("ord_1", "user_1"))
	system := &auth.Identity{UID: "psp-webhook", Roles: []string{auth.RoleSystem}}

	rr := serve(t, newOrderRouter(svc, system), http.MethodPost, "/api/v1/orders/ord_1/payment", map[string]any{
		"succeeded":      true,
		"provider":       "stripe",
		"transaction_id": "pi_1",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, svc.lastPayment.Succeeded)
	assert.Equal(t, "pi_1", svc.lastPayment.TransactionID)
}

func TestOrderRoutesWithoutService(t *testing.T) {
	r := chi.NewRouter()
	r.Use(withIdentity(asCustomer("user_1")))
	r.Route("/orders", NewOrderHandlers(nil).Routes)

	rr := serve(t, r, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "order_service_unavailable", decodeBody[errorEnvelope](t, rr).Error)
}
