package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/repositories"
	"github.com/customwear/api/internal/repositories/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubRefundGateway struct {
	requests []RefundRequest
	err      error
}

func (g *stubRefundGateway) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return RefundResult{}, g.err
	}
	return RefundResult{ExternalID: "re_" + req.IdempotencyKey, Status: "succeeded"}, nil
}

type orderFixture struct {
	reg       *memory.Registry
	clock     *testClock
	events    *recordingPublisher
	inventory InventoryService
	service   OrderService
	logs      *logRecorder
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
}

func (l *logRecorder) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type fixtureOption func(*OrderServiceDeps, *InventoryServiceDeps)

func withRefundGateway(g RefundGateway) fixtureOption {
	return func(o *OrderServiceDeps, _ *InventoryServiceDeps) { o.Refunds = g }
}

func withUnitOfWork(unit repositories.UnitOfWork) fixtureOption {
	return func(o *OrderServiceDeps, _ *InventoryServiceDeps) { o.UnitOfWork = unit }
}

func withOrderRepository(repo repositories.OrderRepository) fixtureOption {
	return func(o *OrderServiceDeps, _ *InventoryServiceDeps) { o.Orders = repo }
}

func newOrderFixture(t *testing.T, opts ...fixtureOption) *orderFixture {
	t.Helper()
	f := &orderFixture{
		reg:    memory.NewRegistry(),
		clock:  newTestClock(),
		events: &recordingPublisher{},
		logs:   &logRecorder{},
	}

	customization, err := NewCustomizationPricingService(CustomizationPricingServiceDeps{Rules: f.reg.CustomizationRules()})
	if err != nil {
		t.Fatalf("NewCustomizationPricingService error: %v", err)
	}
	engine, err := NewOrderPricingEngine(OrderPricingEngineDeps{Catalog: f.reg.Catalog(), Customization: customization})
	if err != nil {
		t.Fatalf("NewOrderPricingEngine error: %v", err)
	}
	numbers, err := NewOrderNumberGenerator(OrderNumberGeneratorDeps{Counters: f.reg.Counters(), Prefix: "CW", Clock: f.clock.Now})
	if err != nil {
		t.Fatalf("NewOrderNumberGenerator error: %v", err)
	}

	orderDeps := OrderServiceDeps{
		Orders:     f.reg.Orders(),
		Pricing:    engine,
		Numbers:    numbers,
		UnitOfWork: f.reg,
		Clock:      f.clock.Now,
		Events:     f.events,
		Logger:     f.logs.log,
	}
	inventoryDeps := InventoryServiceDeps{
		Inventory: f.reg.Inventory(),
		Intents:   f.reg.StockIntents(),
		Orders:    f.reg.Orders(),
		SweepAge:  time.Minute,
		Clock:     f.clock.Now,
		Logger:    f.logs.log,
	}
	for _, opt := range opts {
		opt(&orderDeps, &inventoryDeps)
	}

	f.inventory, err = NewInventoryService(inventoryDeps)
	if err != nil {
		t.Fatalf("NewInventoryService error: %v", err)
	}
	orderDeps.Inventory = f.inventory
	f.service, err = NewOrderService(orderDeps)
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}
	return f
}

func (f *orderFixture) stock(t *testing.T, variantID string) int {
	t.Helper()
	product, err := f.reg.Catalog().GetProduct(context.Background(), "prod_tee")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	variant, ok := product.VariantByID(variantID)
	if !ok {
		t.Fatalf("variant %s missing", variantID)
	}
	return variant.Stock
}

func (f *orderFixture) seedOrder(t *testing.T, order Order) {
	t.Helper()
	if err := f.reg.Orders().Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func testAddress() Address {
	return Address{Recipient: "Ada Lovelace", Line1: "1 Analytical Way", City: "London", PostalCode: "n1 9gu", Country: "gb"}
}

func createCommand(items ...OrderItemInput) CreateOrderCommand {
	return CreateOrderCommand{
		UserID:          "user_1",
		Items:           items,
		ShippingAddress: testAddress(),
		PaymentMethod:   "Card",
	}
}

func paidOrder(id string, status domain.OrderStatus, total int64) Order {
	created := time.Date(2025, 4, 30, 12, 0, 0, 0, time.UTC)
	return Order{
		ID:          id,
		OrderNumber: "N-" + id,
		UserID:      "user_1",
		Status:      status,
		Pricing:     PricingSnapshot{Currency: "GBP", Subtotal: total, Total: total},
		Payment: domain.PaymentRecord{
			Method:        "card",
			Provider:      "stripe",
			Status:        domain.PaymentStatusCompleted,
			TransactionID: "pi_123",
		},
		Timeline:  []domain.TimelineEntry{{Status: status, Description: "seeded", CreatedAt: created}},
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrderService_CreateThenCancelRoundTripsStock(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 2)
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, createCommand(blackM(2)))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if got := f.stock(t, "var_m_black"); got != 0 {
		t.Fatalf("expected stock 0 after create, got %d", got)
	}
	if order.Status != domain.OrderStatusPending || order.OrderNumber != "CW2505010001" {
		t.Fatalf("unexpected order header: %s %s", order.Status, order.OrderNumber)
	}
	// 4000 + 599 shipping = 4599; tax 919.8 -> 920
	if order.Pricing.Total != 5519 || !order.Pricing.Balanced() {
		t.Fatalf("unexpected pricing: %+v", order.Pricing)
	}
	if order.ShippingAddress.Country != "GB" || order.BillingAddress != order.ShippingAddress {
		t.Fatalf("expected normalised shipping copied to billing: %+v", order.BillingAddress)
	}
	if len(order.Timeline) != 1 || order.Payment.Method != "card" {
		t.Fatalf("unexpected initial state: %+v", order)
	}

	intent, err := f.reg.StockIntents().FindByID(ctx, order.ReservationID)
	if err != nil || intent.Status != domain.StockIntentCommitted || intent.OrderID != order.ID {
		t.Fatalf("expected committed intent, got %+v (%v)", intent, err)
	}

	cancelled, err := f.service.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "user_1", Reason: "changed <b>mind</b>"})
	if err != nil {
		t.Fatalf("CancelOrder error: %v", err)
	}
	if got := f.stock(t, "var_m_black"); got != 2 {
		t.Fatalf("expected stock restored to 2, got %d", got)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil || cancelled.CancelReason != "changed mind" {
		t.Fatalf("unexpected cancelled order: %+v", cancelled)
	}
	if len(cancelled.Timeline) != 2 || cancelled.Version != 2 {
		t.Fatalf("expected one timeline entry per status change, got %d (version %d)", len(cancelled.Timeline), cancelled.Version)
	}
	for _, item := range cancelled.Items {
		if item.Status != domain.ItemStatusCancelled {
			t.Fatalf("expected item cancelled, got %s", item.Status)
		}
	}

	intent, _ = f.reg.StockIntents().FindByID(ctx, order.ReservationID)
	if intent.Status != domain.StockIntentReleased {
		t.Fatalf("expected released intent, got %s", intent.Status)
	}

	_, err = f.service.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected second cancel rejected, got %v", err)
	}
	if got := f.stock(t, "var_m_black"); got != 2 {
		t.Fatalf("expected stock still 2, got %d", got)
	}

	types := f.events.types()
	if len(types) != 2 || types[0] != orderEventCreated || types[1] != orderEventCancelled {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestOrderService_CancelShippedIsRejectedWithoutSideEffects(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 5)
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, createCommand(blackM(1)))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	shipped, err := f.service.AddTracking(ctx, AddTrackingCommand{OrderID: order.ID, Carrier: "Royal Mail", TrackingNumber: "RM1", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("AddTracking error: %v", err)
	}

	_, err = f.service.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "staff_1"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected state error, got %v", err)
	}
	svcErr, _ := AsError(err)
	if svcErr.Code != "order_not_cancellable" || svcErr.Details["order_id"] != order.ID {
		t.Fatalf("unexpected error payload: %+v", svcErr)
	}

	after, err := f.service.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if after.Status != domain.OrderStatusShipped || len(after.Timeline) != len(shipped.Timeline) {
		t.Fatalf("expected order unchanged, got %s with %d entries", after.Status, len(after.Timeline))
	}
	if got := f.stock(t, "var_m_black"); got != 4 {
		t.Fatalf("expected stock unchanged at 4, got %d", got)
	}
}

func TestOrderService_CreateIsAtomicWhenLaterLineFails(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 3)
	ctx := context.Background()

	white := OrderItemInput{ProductID: "prod_tee", Variant: domain.VariantKey{Size: "L", Color: "White", Material: "Cotton"}, Quantity: 4}
	_, err := f.service.CreateOrder(ctx, createCommand(blackM(1), white))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := f.stock(t, "var_m_black"); got != 3 {
		t.Fatalf("expected first line untouched, got %d", got)
	}
	orders, _ := f.service.ListUserOrders(ctx, "user_1", 0)
	if len(orders) != 0 {
		t.Fatalf("expected no order persisted, got %d", len(orders))
	}
}

func TestOrderService_ConcurrentCreatesNeverOversell(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 5)
	ctx := context.Background()

	const attempts = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicts := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.CreateOrder(ctx, createCommand(blackM(1)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 || conflicts != attempts-5 {
		t.Fatalf("expected 5 successes, got %d (conflicts %d)", succeeded, conflicts)
	}
	if got := f.stock(t, "var_m_black"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestOrderService_RetriesTakenOrderNumber(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 5)
	existing := paidOrder("ord_imported0001", domain.OrderStatusConfirmed, 1000)
	existing.OrderNumber = "CW2505010001"
	f.seedOrder(t, existing)

	order, err := f.service.CreateOrder(context.Background(), createCommand(blackM(1)))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if order.OrderNumber != "CW2505010002" {
		t.Fatalf("expected next number, got %s", order.OrderNumber)
	}
	if !f.logs.has("orders.create.retry") {
		t.Fatalf("expected retry to be logged")
	}
}

// stallingUnitOfWork runs before once ahead of the first transaction, standing in for a
// request that stalls between reserving stock and saving the order.
type stallingUnitOfWork struct {
	inner  repositories.UnitOfWork
	before func(ctx context.Context)
}

func (u *stallingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if u.before != nil {
		before := u.before
		u.before = nil
		before(ctx)
	}
	return u.inner.RunInTx(ctx, fn)
}

func TestOrderService_CreateAbortsWhenReservationWasSwept(t *testing.T) {
	unit := &stallingUnitOfWork{}
	f := newOrderFixture(t, withUnitOfWork(unit))
	unit.inner = f.reg
	unit.before = func(ctx context.Context) {
		f.clock.Advance(10 * time.Minute)
		if _, err := f.inventory.SweepIntents(ctx); err != nil {
			t.Errorf("SweepIntents error: %v", err)
		}
	}
	seedTee(t, f.reg, 2000, 0, 4)
	ctx := context.Background()

	_, err := f.service.CreateOrder(ctx, createCommand(blackM(2)))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if svcErr, _ := AsError(err); svcErr.Code != "reservation_expired" {
		t.Fatalf("expected reservation_expired, got %+v", svcErr)
	}
	if f.logs.has("orders.create.retry") {
		t.Fatalf("expired reservation must not be retried as a taken order number")
	}
	orders, _ := f.service.ListUserOrders(ctx, "user_1", 0)
	if len(orders) != 0 {
		t.Fatalf("expected no order persisted, got %d", len(orders))
	}
	if got := f.stock(t, "var_m_black"); got != 4 {
		t.Fatalf("expected stock returned once, got %d", got)
	}
	if len(f.events.types()) != 0 {
		t.Fatalf("expected no events, got %v", f.events.types())
	}
}

func TestOrderService_CancelRevertsOrderWhenReleaseCannotStart(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := paidOrder("ord_dangling001", domain.OrderStatusPending, 2000)
	order.ReservationID = "int_missing"
	f.seedOrder(t, order)

	if _, err := f.service.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, ActorID: "user_1"}); err == nil {
		t.Fatalf("expected cancel to fail")
	}
	stored, err := f.service.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || len(stored.Timeline) != 1 || stored.Version != 1 {
		t.Fatalf("expected order untouched, got status=%s timeline=%d version=%d", stored.Status, len(stored.Timeline), stored.Version)
	}
}

func TestOrderService_RefundSequencing(t *testing.T) {
	f := newOrderFixture(t)
	f.seedOrder(t, paidOrder("ord_refund0001", domain.OrderStatusConfirmed, 10000))
	ctx := context.Background()

	partial, err := f.service.ProcessRefund(ctx, ProcessRefundCommand{OrderID: "ord_refund0001", Amount: 3000, Reason: "late", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("first refund error: %v", err)
	}
	if partial.Payment.Status != domain.PaymentStatusPartiallyRefunded || partial.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected state after partial refund: %s/%s", partial.Status, partial.Payment.Status)
	}
	if len(partial.Timeline) != 1 {
		t.Fatalf("expected no timeline entry for a partial refund, got %d", len(partial.Timeline))
	}

	_, err = f.service.ProcessRefund(ctx, ProcessRefundCommand{OrderID: "ord_refund0001", Amount: 7001, ActorID: "staff_1"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected over-refund rejected, got %v", err)
	}
	if svcErr, _ := AsError(err); svcErr.Details["refundable"] != int64(7000) {
		t.Fatalf("expected refundable amount in details, got %+v", svcErr.Details)
	}

	full, err := f.service.ProcessRefund(ctx, ProcessRefundCommand{OrderID: "ord_refund0001", Amount: 7000, ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("second refund error: %v", err)
	}
	if full.Status != domain.OrderStatusRefunded || full.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s/%s", full.Status, full.Payment.Status)
	}
	if full.RefundedAmount() != 10000 || len(full.Timeline) != 2 {
		t.Fatalf("unexpected ledger: refunded=%d timeline=%d", full.RefundedAmount(), len(full.Timeline))
	}

	if _, err := f.service.ProcessRefund(ctx, ProcessRefundCommand{OrderID: "ord_refund0001", Amount: 1}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected refund after full refund rejected, got %v", err)
	}
}

func TestOrderService_RefundValidation(t *testing.T) {
	f := newOrderFixture(t)
	pending := paidOrder("ord_pending0001", domain.OrderStatusPending, 5000)
	pending.Payment.Status = domain.PaymentStatusPending
	f.seedOrder(t, pending)
	f.seedOrder(t, paidOrder("ord_confirm0001", domain.OrderStatusConfirmed, 5000))
	ctx := context.Background()

	cases := []struct {
		name    string
		orderID string
		amount  int64
		kind    error
		code    string
	}{
		{name: "zero amount", orderID: "ord_confirm0001", amount: 0, kind: ErrValidation, code: "invalid_refund_amount"},
		{name: "unpaid order", orderID: "ord_pending0001", amount: 100, kind: ErrInvalidState, code: "refund_not_allowed"},
		{name: "missing order", orderID: "ord_missing", amount: 100, kind: ErrNotFound, code: "order_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.ProcessRefund(ctx, ProcessRefundCommand{OrderID: tc.orderID, Amount: tc.amount})
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if svcErr, ok := AsError(err); !ok || svcErr.Code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, err)
			}
		})
	}
}

func TestOrderService_RefundUsesGateway(t *testing.T) {
	gateway := &stubRefundGateway{}
	f := newOrderFixture(t, withRefundGateway(gateway))
	f.seedOrder(t, paidOrder("ord_gateway0001", domain.OrderStatusShipped, 4000))
	ctx := context.Background()

	order, err := f.service.ProcessRefund(ctx, ProcessRefundCommand{OrderID: "ord_gateway0001", Amount: 1500, Reason: "damaged", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("ProcessRefund error: %v", err)
	}
	if len(gateway.requests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(gateway.requests))
	}
	req := gateway.requests[0]
	if req.IdempotencyKey != "ord_gateway0001:refund:1" || req.TransactionID != "pi_123" || req.Currency != "GBP" {
		t.Fatalf("unexpected refund request: %+v", req)
	}
	if order.Payment.Refunds[0].ExternalRefundID != "re_ord_gateway0001:refund:1" {
		t.Fatalf("expected external refund id recorded, got %+v", order.Payment.Refunds[0])
	}

	gateway.err = errors.New("card_declined")
	_, err = f.service.ProcessRefund(ctx, ProcessRefundCommand{OrderID: "ord_gateway0001", Amount: 500})
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if gateway.requests[1].IdempotencyKey != "ord_gateway0001:refund:2" {
		t.Fatalf("expected sequential idempotency key, got %s", gateway.requests[1].IdempotencyKey)
	}
	after, _ := f.service.GetOrder(ctx, "ord_gateway0001")
	if len(after.Payment.Refunds) != 1 {
		t.Fatalf("expected failed refund not recorded, got %d entries", len(after.Payment.Refunds))
	}
}

func TestOrderService_TrackingAppendsTimelineOnlyOnStatusChange(t *testing.T) {
	f := newOrderFixture(t)
	f.seedOrder(t, paidOrder("ord_track00001", domain.OrderStatusProduction, 3000))
	ctx := context.Background()

	first, err := f.service.AddTracking(ctx, AddTrackingCommand{OrderID: "ord_track00001", Carrier: "DPD", TrackingNumber: "DPD1", TrackingURL: "https://track.example/DPD1"})
	if err != nil {
		t.Fatalf("AddTracking error: %v", err)
	}
	if first.Status != domain.OrderStatusShipped || len(first.Timeline) != 2 || first.ShippedAt == nil {
		t.Fatalf("expected shipped with one new entry, got %s/%d", first.Status, len(first.Timeline))
	}

	second, err := f.service.AddTracking(ctx, AddTrackingCommand{OrderID: "ord_track00001", Carrier: "DPD", TrackingNumber: "DPD2"})
	if err != nil {
		t.Fatalf("AddTracking error: %v", err)
	}
	if len(second.Timeline) != 2 || second.Tracking.TrackingNumber != "DPD2" {
		t.Fatalf("expected tracking replaced without timeline entry, got %+v", second.Tracking)
	}

	_, err = f.service.AddTracking(ctx, AddTrackingCommand{OrderID: "ord_track00001", Carrier: "DPD", TrackingNumber: "X", TrackingURL: "javascript:alert(1)"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid url rejected, got %v", err)
	}
	_, err = f.service.AddTracking(ctx, AddTrackingCommand{OrderID: "ord_missing", Carrier: "DPD", TrackingNumber: "X"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	f := newOrderFixture(t)
	f.seedOrder(t, paidOrder("ord_status0001", domain.OrderStatusConfirmed, 3000))
	ctx := context.Background()

	order, err := f.service.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_status0001", Status: "Production", ActorID: "staff_1", Note: "sent to <i>press</i>"})
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	last := order.Timeline[len(order.Timeline)-1]
	if order.Status != domain.OrderStatusProduction || last.Description != "sent to press" || last.Actor != "staff_1" {
		t.Fatalf("unexpected timeline entry: %+v", last)
	}

	same, err := f.service.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_status0001", Status: domain.OrderStatusProduction, ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	if len(same.Timeline) != len(order.Timeline)+1 {
		t.Fatalf("expected explicit update to always append")
	}

	if _, err := f.service.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_status0001", Status: "lost", ActorID: "staff_1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid status rejected, got %v", err)
	}
	if _, err := f.service.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_status0001", Status: "shipped"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing actor rejected, got %v", err)
	}
}

func TestOrderService_StatusUpdateToCancelledReleasesStock(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 3)
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, createCommand(blackM(3)))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if _, err := f.service.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: domain.OrderStatusCancelled, ActorID: "staff_1"}); err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	if got := f.stock(t, "var_m_black"); got != 3 {
		t.Fatalf("expected stock released, got %d", got)
	}
}

func TestOrderService_RecordPaymentResult(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 3)
	ctx := context.Background()

	order, err := f.service.CreateOrder(ctx, createCommand(blackM(1)))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	failed, err := f.service.RecordPaymentResult(ctx, PaymentResultCommand{OrderID: order.ID, Provider: "stripe"})
	if err != nil {
		t.Fatalf("RecordPaymentResult error: %v", err)
	}
	if failed.Payment.Status != domain.PaymentStatusFailed || failed.Status != domain.OrderStatusPending || len(failed.Timeline) != 1 {
		t.Fatalf("expected failed payment without status change: %+v", failed.Payment)
	}

	paid, err := f.service.RecordPaymentResult(ctx, PaymentResultCommand{OrderID: order.ID, Succeeded: true, Provider: "Stripe", TransactionID: "pi_1"})
	if err != nil {
		t.Fatalf("RecordPaymentResult error: %v", err)
	}
	last := paid.Timeline[len(paid.Timeline)-1]
	if paid.Status != domain.OrderStatusConfirmed || !last.Automatic || paid.Payment.PaidAt == nil || paid.Payment.Provider != "stripe" {
		t.Fatalf("expected confirmed with automatic entry: %+v", paid)
	}

	if _, err := f.service.RecordPaymentResult(ctx, PaymentResultCommand{OrderID: order.ID}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected failure after capture rejected, got %v", err)
	}
	if _, err := f.service.RecordPaymentResult(ctx, PaymentResultCommand{OrderID: order.ID, Succeeded: true}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing transaction rejected, got %v", err)
	}
}

func TestOrderService_CreateValidation(t *testing.T) {
	f := newOrderFixture(t)
	seedTee(t, f.reg, 2000, 0, 3)
	ctx := context.Background()

	noUser := createCommand(blackM(1))
	noUser.UserID = " "
	badAddress := createCommand(blackM(1))
	badAddress.ShippingAddress.Country = "GBR"

	for name, cmd := range map[string]CreateOrderCommand{"user": noUser, "address": badAddress} {
		if _, err := f.service.CreateOrder(ctx, cmd); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if got := f.stock(t, "var_m_black"); got != 3 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

type conflictOnceOrders struct {
	repositories.OrderRepository
	mu       sync.Mutex
	failures int
}

func (c *conflictOnceOrders) Update(ctx context.Context, order domain.Order, expected int64) (domain.Order, error) {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return domain.Order{}, repositories.NewError("orders.update", repositories.ErrorKindConflict, errors.New("stale"))
	}
	c.mu.Unlock()
	return c.OrderRepository.Update(ctx, order, expected)
}

func TestOrderService_RetriesVersionConflicts(t *testing.T) {
	reg := memory.NewRegistry()
	flaky := &conflictOnceOrders{OrderRepository: reg.Orders(), failures: 2}
	f := newOrderFixture(t, withOrderRepository(flaky))
	if err := reg.Orders().Insert(context.Background(), paidOrder("ord_flaky00001", domain.OrderStatusConfirmed, 3000)); err != nil {
		t.Fatalf("seed wrapped registry: %v", err)
	}

	order, err := f.service.UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_flaky00001", Status: "processing", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if order.Version != 2 || len(order.Timeline) != 2 {
		t.Fatalf("expected a single applied update, got version %d timeline %d", order.Version, len(order.Timeline))
	}

	flaky.failures = maxOrderUpdateAttempts
	_, err = f.service.UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_flaky00001", Status: "shipped", ActorID: "staff_1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict after exhausting retries, got %v", err)
	}
}

func TestOrderService_PublishFailureIsLogged(t *testing.T) {
	f := newOrderFixture(t)
	f.events.err = errors.New("broker down")
	seedTee(t, f.reg, 2000, 0, 3)

	if _, err := f.service.CreateOrder(context.Background(), createCommand(blackM(1))); err != nil {
		t.Fatalf("expected create to succeed despite publish failure, got %v", err)
	}
	if !f.logs.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure to be logged")
	}
}
