package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/textutil"
	"github.com/customwear/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"
	orderEventShipped       = "order.shipped"
	orderEventTracking      = "order.tracking.updated"
	orderEventRefunded      = "order.refund.processed"
	orderEventPayment       = "order.payment.recorded"

	orderIDPrefix  = "ord_"
	refundIDPrefix = "rf_"

	maxOrderNumberAttempts = 3
	maxOrderUpdateAttempts = 3
	defaultOrderListLimit  = 20
	maxOrderListLimit      = 100
	maxNoteRunes           = 500
	maxAddressFieldRunes   = 200
	defaultPaymentMethod   = "card"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Pricing     *OrderPricingEngine
	Inventory   InventoryService
	Numbers     *OrderNumberGenerator
	Refunds     RefundGateway
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Meter       metric.Meter
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	pricing    *OrderPricingEngine
	inventory  InventoryService
	numbers    *OrderNumberGenerator
	refunds    RefundGateway
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	metrics    *serviceMetrics
	locks      *keyedMutex
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		pricing:    deps.Pricing,
		inventory:  deps.Inventory,
		numbers:    deps.Numbers,
		refunds:    deps.Refunds,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		metrics: newServiceMetrics(deps.Meter),
		locks:   newKeyedMutex(),
		logger:  logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	const op = "orders.create"

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, validationError(op, "user_required", "user id is required", nil)
	}
	shipping, err := normalizeAddress(op, "shipping_address", cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	billing := shipping
	if cmd.BillingAddress != (Address{}) {
		if billing, err = normalizeAddress(op, "billing_address", cmd.BillingAddress); err != nil {
			return Order{}, err
		}
	}
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if method == "" {
		method = defaultPaymentMethod
	}
	if len(method) > 32 {
		return Order{}, validationError(op, "invalid_payment_method", "payment method is invalid", nil)
	}

	priced, err := s.pricing.Price(ctx, cmd.Items, cmd.DiscountCode)
	if err != nil {
		s.metrics.orderEvent(ctx, orderEventCreated, "rejected")
		return Order{}, err
	}

	orderID := orderIDPrefix + s.newID()
	intent, err := s.inventory.Reserve(ctx, ReserveStockCommand{OrderID: orderID, Lines: priced.Lines})
	if err != nil {
		s.metrics.orderEvent(ctx, orderEventCreated, "rejected")
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:              orderID,
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		Items:           priced.Items,
		Pricing:         priced.Pricing,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Payment: domain.PaymentRecord{
			Method: method,
			Status: domain.PaymentStatusPending,
		},
		DiscountCode:  strings.ToUpper(strings.TrimSpace(cmd.DiscountCode)),
		ReservationID: intent.ID,
		Version:       1,
		Timeline: []domain.TimelineEntry{{
			Status:      domain.OrderStatusPending,
			Description: "Order placed",
			Actor:       userID,
			Automatic:   true,
			CreatedAt:   now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Next(ctx)
		if err == nil {
			order.OrderNumber = number
			// Commit reads the intent, so it runs before the insert writes.
			err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
				if err := s.inventory.Commit(txCtx, intent.ID, order.ID); err != nil {
					return err
				}
				return s.orders.Insert(txCtx, order)
			})
		}
		if err == nil {
			break
		}
		if _, ok := AsError(err); !ok && isConflict(err) && attempt < maxOrderNumberAttempts {
			s.logger(ctx, "orders.create.retry", map[string]any{"orderId": order.ID, "orderNumber": order.OrderNumber, "attempt": attempt})
			continue
		}
		if rbErr := s.inventory.Rollback(ctx, intent.ID, err); rbErr != nil {
			s.logger(ctx, "orders.create.rollback.failed", map[string]any{"orderId": order.ID, "intentId": intent.ID, "error": rbErr.Error()})
		}
		s.metrics.orderEvent(ctx, orderEventCreated, "failed")
		return Order{}, mapRepositoryError(op, err, map[string]any{"order_id": order.ID})
	}

	s.metrics.orderEvent(ctx, orderEventCreated, "ok")
	s.logger(ctx, op, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      userID,
		"total":       order.Pricing.Total,
		"lines":       len(order.Items),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":    order.Pricing.Total,
			"currency": order.Pricing.Currency,
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	const op = "orders.get"
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, validationError(op, "order_required", "order id is required", nil)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapOrderError(op, orderID, err)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, limit int) ([]Order, error) {
	const op = "orders.list"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError(op, "user_required", "user id is required", nil)
	}
	switch {
	case limit <= 0:
		limit = defaultOrderListLimit
	case limit > maxOrderListLimit:
		limit = maxOrderListLimit
	}
	orders, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, mapRepositoryError(op, err, map[string]any{"user_id": userID})
	}
	return orders, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	const op = "orders.update_status"

	status, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return Order{}, validationError(op, "invalid_status", "unknown order status", map[string]any{
			"status":  string(cmd.Status),
			"allowed": domain.OrderStatuses(),
		})
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Order{}, validationError(op, "actor_required", "actor id is required", nil)
	}
	note := textutil.SanitizeLimit(cmd.Note, maxNoteRunes)

	var releaseIntent string
	before, order, err := s.mutateOrder(ctx, op, cmd.OrderID, func(order *Order) error {
		releaseIntent = ""
		if status == domain.OrderStatusCancelled && order.Cancellable() {
			releaseIntent = order.ReservationID
		}
		description := note
		if description == "" {
			description = "Status changed to " + string(status)
		}
		order.RecordStatus(status, description, actor, false, s.now())
		return nil
	}, func(txCtx context.Context, _ Order) error {
		if releaseIntent == "" {
			return nil
		}
		return s.inventory.MarkReleasing(txCtx, releaseIntent)
	})
	if err != nil {
		return Order{}, err
	}
	s.releaseStock(ctx, order, releaseIntent)

	s.metrics.orderEvent(ctx, orderEventStatusChanged, "ok")
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(before.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       optionalMetadata("note", note),
	})
	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	const op = "orders.cancel"

	actor := strings.TrimSpace(cmd.ActorID)
	reason := textutil.SanitizeLimit(cmd.Reason, maxNoteRunes)

	before, order, err := s.mutateOrder(ctx, op, cmd.OrderID, func(order *Order) error {
		if err := order.Cancel(reason, actor, s.now()); err != nil {
			return s.mapDomainError(op, order, err, nil)
		}
		return nil
	}, func(txCtx context.Context, updated Order) error {
		if updated.ReservationID == "" {
			return nil
		}
		return s.inventory.MarkReleasing(txCtx, updated.ReservationID)
	})
	if err != nil {
		s.metrics.orderEvent(ctx, orderEventCancelled, "rejected")
		return Order{}, err
	}
	s.releaseStock(ctx, order, order.ReservationID)

	s.metrics.orderEvent(ctx, orderEventCancelled, "ok")
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(before.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       optionalMetadata("reason", reason),
	})
	return order, nil
}

func (s *orderService) AddTracking(ctx context.Context, cmd AddTrackingCommand) (Order, error) {
	const op = "orders.add_tracking"

	info := domain.TrackingInfo{
		Carrier:        textutil.SanitizeLimit(cmd.Carrier, 64),
		TrackingNumber: strings.TrimSpace(cmd.TrackingNumber),
		TrackingURL:    strings.TrimSpace(cmd.TrackingURL),
	}
	if info.Carrier == "" || info.TrackingNumber == "" {
		return Order{}, validationError(op, "tracking_required", "carrier and tracking number are required", nil)
	}
	if info.TrackingURL != "" {
		parsed, err := url.Parse(info.TrackingURL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return Order{}, validationError(op, "invalid_tracking_url", "tracking url must be an absolute http(s) url", map[string]any{"tracking_url": info.TrackingURL})
		}
	}
	actor := strings.TrimSpace(cmd.ActorID)

	var statusChanged bool
	before, order, err := s.mutateOrder(ctx, op, cmd.OrderID, func(order *Order) error {
		statusChanged = order.ApplyTracking(info, actor, s.now())
		return nil
	}, nil)
	if err != nil {
		return Order{}, err
	}

	eventType := orderEventTracking
	if statusChanged {
		eventType = orderEventShipped
	}
	s.metrics.orderEvent(ctx, eventType, "ok")
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(before.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
		Metadata: map[string]any{
			"carrier":        info.Carrier,
			"trackingNumber": info.TrackingNumber,
		},
	})
	return order, nil
}

func (s *orderService) ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (Order, error) {
	const op = "orders.refund"

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, validationError(op, "order_required", "order id is required", nil)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	reason := textutil.SanitizeLimit(cmd.Reason, maxNoteRunes)

	unlock := s.locks.Lock(orderID)
	defer unlock()

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapOrderError(op, orderID, err)
	}
	if err := current.CheckRefund(cmd.Amount); err != nil {
		s.metrics.orderEvent(ctx, orderEventRefunded, "rejected")
		return Order{}, s.mapDomainError(op, &current, err, map[string]any{"amount": cmd.Amount})
	}

	entry := domain.RefundEntry{
		ID:          refundIDPrefix + s.newID(),
		Amount:      cmd.Amount,
		Reason:      reason,
		ProcessedBy: actor,
	}
	if s.refunds != nil && current.Payment.TransactionID != "" {
		result, err := s.refunds.Refund(ctx, RefundRequest{
			OrderID:        current.ID,
			Provider:       current.Payment.Provider,
			TransactionID:  current.Payment.TransactionID,
			Amount:         cmd.Amount,
			Currency:       current.Pricing.Currency,
			Reason:         reason,
			IdempotencyKey: fmt.Sprintf("%s:refund:%d", current.ID, len(current.Payment.Refunds)+1),
		})
		if err != nil {
			s.metrics.orderEvent(ctx, orderEventRefunded, "failed")
			if _, ok := AsError(err); ok {
				return Order{}, err
			}
			return Order{}, newError(ErrExternalService, op, "refund_provider_failed", "payment provider refused or failed the refund", map[string]any{
				"order_id": current.ID,
				"amount":   cmd.Amount,
			}).wrap(err)
		}
		entry.ExternalRefundID = result.ExternalID
	}

	var statusChanged bool
	before, order, err := s.mutateOrderLocked(ctx, op, orderID, func(order *Order) error {
		changed, err := order.ApplyRefund(entry, s.now())
		if err != nil {
			return s.mapDomainError(op, order, err, map[string]any{"amount": cmd.Amount})
		}
		statusChanged = changed
		return nil
	}, nil)
	if err != nil {
		if entry.ExternalRefundID != "" {
			s.logger(ctx, "orders.refund.unrecorded", map[string]any{
				"orderId":          orderID,
				"externalRefundId": entry.ExternalRefundID,
				"amount":           cmd.Amount,
				"error":            err.Error(),
			})
		}
		return Order{}, err
	}

	s.metrics.orderEvent(ctx, orderEventRefunded, "ok")
	s.logger(ctx, op, map[string]any{
		"orderId":    order.ID,
		"amount":     cmd.Amount,
		"refunded":   order.RefundedAmount(),
		"refundable": order.RefundableAmount(),
	})
	metadata := map[string]any{
		"amount":        cmd.Amount,
		"refundId":      entry.ID,
		"paymentStatus": string(order.Payment.Status),
		"statusChanged": statusChanged,
	}
	if entry.ExternalRefundID != "" {
		metadata["externalRefundId"] = entry.ExternalRefundID
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventRefunded,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(before.Status),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) RecordPaymentResult(ctx context.Context, cmd PaymentResultCommand) (Order, error) {
	const op = "orders.payment"

	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	transactionID := strings.TrimSpace(cmd.TransactionID)
	if cmd.Succeeded && transactionID == "" {
		return Order{}, validationError(op, "transaction_required", "transaction id is required for a successful payment", nil)
	}

	before, order, err := s.mutateOrder(ctx, op, cmd.OrderID, func(order *Order) error {
		now := s.now()
		if cmd.Succeeded {
			order.MarkPaid(provider, transactionID, now)
			return nil
		}
		switch order.Payment.Status {
		case domain.PaymentStatusCompleted, domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
			return newError(ErrInvalidState, op, "payment_already_settled", "payment has already been captured", map[string]any{
				"order_id":       order.ID,
				"payment_status": string(order.Payment.Status),
			})
		}
		order.MarkPaymentFailed(provider, transactionID, now)
		return nil
	}, nil)
	if err != nil {
		return Order{}, err
	}

	outcome := "failed"
	if cmd.Succeeded {
		outcome = "succeeded"
	}
	s.metrics.orderEvent(ctx, orderEventPayment, outcome)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPayment,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(before.Status),
		CurrentStatus:  string(order.Status),
		OccurredAt:     order.UpdatedAt,
		Metadata: map[string]any{
			"outcome":       outcome,
			"provider":      provider,
			"paymentStatus": string(order.Payment.Status),
		},
	})
	return order, nil
}

// mutateOrder serializes fn per order id and persists the result with an optimistic
// version check, reloading on conflict. inTx runs in the same unit of work after the
// order is written.
func (s *orderService) mutateOrder(ctx context.Context, op, orderID string, fn func(*Order) error, inTx func(context.Context, Order) error) (Order, Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, Order{}, validationError(op, "order_required", "order id is required", nil)
	}
	unlock := s.locks.Lock(orderID)
	defer unlock()
	return s.mutateOrderLocked(ctx, op, orderID, fn, inTx)
}

func (s *orderService) mutateOrderLocked(ctx context.Context, op, orderID string, fn func(*Order) error, inTx func(context.Context, Order) error) (Order, Order, error) {
	var before, after Order
	for attempt := 1; ; attempt++ {
		err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			current, err := s.orders.FindByID(txCtx, orderID)
			if err != nil {
				return s.mapOrderError(op, orderID, err)
			}
			before = current.Clone()
			if err := fn(&current); err != nil {
				return err
			}
			updated, err := s.orders.Update(txCtx, current, before.Version)
			if err != nil {
				return err
			}
			if inTx != nil {
				if err := inTx(txCtx, updated); err != nil {
					return err
				}
			}
			after = updated
			return nil
		})
		if err == nil {
			return before, after, nil
		}
		if _, ok := AsError(err); !ok && isConflict(err) && attempt < maxOrderUpdateAttempts {
			s.logger(ctx, op+".retry", map[string]any{"orderId": orderID, "attempt": attempt})
			continue
		}
		return Order{}, Order{}, mapRepositoryError(op, err, map[string]any{"order_id": orderID})
	}
}

func (s *orderService) releaseStock(ctx context.Context, order Order, intentID string) {
	if intentID == "" {
		return
	}
	if _, err := s.inventory.Release(ctx, intentID); err != nil {
		s.logger(ctx, "orders.stock.release.failed", map[string]any{
			"orderId":  order.ID,
			"intentId": intentID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) mapOrderError(op, orderID string, err error) error {
	if isNotFound(err) {
		return newError(ErrNotFound, op, "order_not_found", "order not found", map[string]any{"order_id": orderID}).wrap(err)
	}
	return mapRepositoryError(op, err, map[string]any{"order_id": orderID})
}

func (s *orderService) mapDomainError(op string, order *Order, err error, details map[string]any) error {
	merged := maps.Clone(details)
	if merged == nil {
		merged = make(map[string]any)
	}
	merged["order_id"] = order.ID
	merged["status"] = string(order.Status)

	switch {
	case errors.Is(err, domain.ErrNotCancellable):
		return newError(ErrInvalidState, op, "order_not_cancellable", "order is not cancellable", merged).wrap(err)
	case errors.Is(err, domain.ErrRefundAmountInvalid):
		return newError(ErrValidation, op, "invalid_refund_amount", "refund amount must be positive", merged).wrap(err)
	case errors.Is(err, domain.ErrRefundNotAllowed):
		merged["payment_status"] = string(order.Payment.Status)
		return newError(ErrInvalidState, op, "refund_not_allowed", "order cannot be refunded in its current state", merged).wrap(err)
	case errors.Is(err, domain.ErrRefundExceedsBalance):
		merged["refundable"] = order.RefundableAmount()
		return newError(ErrInvalidState, op, "refund_exceeds_refundable", "refund exceeds the refundable amount", merged).wrap(err)
	default:
		return newError(ErrInvalidState, op, "invalid_state", err.Error(), merged).wrap(err)
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func normalizeAddress(op, field string, addr Address) (Address, error) {
	clean := Address{
		Recipient:  textutil.SanitizeLimit(addr.Recipient, maxAddressFieldRunes),
		Line1:      textutil.SanitizeLimit(addr.Line1, maxAddressFieldRunes),
		Line2:      textutil.SanitizeLimit(addr.Line2, maxAddressFieldRunes),
		City:       textutil.SanitizeLimit(addr.City, maxAddressFieldRunes),
		State:      textutil.SanitizeLimit(addr.State, maxAddressFieldRunes),
		PostalCode: strings.ToUpper(textutil.SanitizeLimit(addr.PostalCode, 16)),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      textutil.SanitizeLimit(addr.Phone, 32),
	}
	var missing []string
	if clean.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if clean.Line1 == "" {
		missing = append(missing, "line1")
	}
	if clean.City == "" {
		missing = append(missing, "city")
	}
	if clean.PostalCode == "" {
		missing = append(missing, "postal_code")
	}
	if len(clean.Country) != 2 {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return Address{}, validationError(op, "invalid_address", "address is incomplete", map[string]any{
			"field":  field,
			"fields": missing,
		})
	}
	return clean, nil
}

func optionalMetadata(key, value string) map[string]any {
	if value == "" {
		return nil
	}
	return map[string]any{key: value}
}
