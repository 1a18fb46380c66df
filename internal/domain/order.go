package domain

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrRefundAmountInvalid is returned for zero or negative refund amounts.
	ErrRefundAmountInvalid = errors.New("order: refund amount must be positive")
	// ErrRefundExceedsBalance is returned when a refund is larger than the refundable amount.
	ErrRefundExceedsBalance = errors.New("order: refund exceeds refundable amount")
	// ErrRefundNotAllowed is returned when payment or order state forbids refunds.
	ErrRefundNotAllowed = errors.New("order: refund not allowed")
	// ErrNotCancellable is returned when cancelling outside pending/confirmed.
	ErrNotCancellable = errors.New("order: not cancellable")
)

var (
	cancellableStatuses = []OrderStatus{OrderStatusPending, OrderStatusConfirmed}
	refundableStatuses  = []OrderStatus{OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped}
	refundablePayments  = []PaymentStatus{PaymentStatusCompleted, PaymentStatusPartiallyRefunded}
)

// Cancellable reports whether the order may still be cancelled.
func (o *Order) Cancellable() bool {
	return slices.Contains(cancellableStatuses, o.Status)
}

// RecordStatus moves the order to status and appends exactly one timeline entry.
func (o *Order) RecordStatus(status OrderStatus, description, actor string, automatic bool, at time.Time) {
	o.Status = status
	o.Timeline = append(o.Timeline, TimelineEntry{
		Status:      status,
		Description: description,
		Actor:       actor,
		Automatic:   automatic,
		CreatedAt:   at,
	})
	o.UpdatedAt = at

	switch status {
	case OrderStatusShipped:
		if o.ShippedAt == nil {
			o.ShippedAt = timePtr(at)
		}
		o.setItemStatus(ItemStatusShipped)
	case OrderStatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = timePtr(at)
		}
		o.setItemStatus(ItemStatusDelivered)
	case OrderStatusProduction:
		o.setItemStatus(ItemStatusProduction)
	case OrderStatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = timePtr(at)
		}
		o.setItemStatus(ItemStatusCancelled)
	}
}

// Cancel transitions a pending or confirmed order to cancelled.
func (o *Order) Cancel(reason, actor string, at time.Time) error {
	if !o.Cancellable() {
		return ErrNotCancellable
	}
	description := "Order cancelled"
	if reason != "" {
		description += ": " + reason
	}
	o.CancelReason = reason
	o.RecordStatus(OrderStatusCancelled, description, actor, false, at)
	return nil
}

// ApplyTracking stores carrier details and forces the order to shipped. It reports
// whether the status changed; a timeline entry is written only in that case.
func (o *Order) ApplyTracking(info TrackingInfo, actor string, at time.Time) bool {
	info.ShippedAt = at
	o.Tracking = &info
	o.ShippedAt = timePtr(at)
	o.UpdatedAt = at
	if o.Status == OrderStatusShipped {
		return false
	}
	o.RecordStatus(OrderStatusShipped, "Shipped via "+info.Carrier+" ("+info.TrackingNumber+")", actor, false, at)
	return true
}

// MarkPaid records a successful payment and confirms a pending order.
func (o *Order) MarkPaid(provider, transactionID string, at time.Time) bool {
	o.Payment.Status = PaymentStatusCompleted
	if provider != "" {
		o.Payment.Provider = provider
	}
	if transactionID != "" {
		o.Payment.TransactionID = transactionID
	}
	o.Payment.PaidAt = timePtr(at)
	o.UpdatedAt = at
	if o.Status != OrderStatusPending {
		return false
	}
	o.RecordStatus(OrderStatusConfirmed, "Payment received", "", true, at)
	return true
}

// MarkPaymentFailed records a failed payment without touching the order status.
func (o *Order) MarkPaymentFailed(provider, transactionID string, at time.Time) {
	o.Payment.Status = PaymentStatusFailed
	if provider != "" {
		o.Payment.Provider = provider
	}
	if transactionID != "" {
		o.Payment.TransactionID = transactionID
	}
	o.UpdatedAt = at
}

// RefundedAmount sums all refunds recorded so far.
func (o *Order) RefundedAmount() int64 {
	var total int64
	for _, refund := range o.Payment.Refunds {
		total += refund.Amount
	}
	return total
}

// RefundableAmount is the order total minus prior refunds.
func (o *Order) RefundableAmount() int64 {
	remaining := o.Pricing.Total - o.RefundedAmount()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckRefund validates a refund request against state and the ledger.
func (o *Order) CheckRefund(amount int64) error {
	if amount <= 0 {
		return ErrRefundAmountInvalid
	}
	if !slices.Contains(refundablePayments, o.Payment.Status) || !slices.Contains(refundableStatuses, o.Status) {
		return ErrRefundNotAllowed
	}
	if amount > o.RefundableAmount() {
		return ErrRefundExceedsBalance
	}
	return nil
}

// ApplyRefund appends entry to the ledger. Reaching the order total moves both the
// order and the payment to refunded; otherwise only the payment becomes partially
// refunded. It reports whether the order status changed.
func (o *Order) ApplyRefund(entry RefundEntry, at time.Time) (bool, error) {
	if err := o.CheckRefund(entry.Amount); err != nil {
		return false, err
	}
	entry.CreatedAt = at
	o.Payment.Refunds = append(o.Payment.Refunds, entry)
	o.UpdatedAt = at
	if o.RefundedAmount() < o.Pricing.Total {
		o.Payment.Status = PaymentStatusPartiallyRefunded
		return false, nil
	}
	o.Payment.Status = PaymentStatusRefunded
	description := "Order fully refunded"
	if entry.Reason != "" {
		description += ": " + entry.Reason
	}
	o.RecordStatus(OrderStatusRefunded, description, entry.ProcessedBy, false, at)
	return true, nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o Order) Clone() Order {
	clone := o
	clone.Items = slices.Clone(o.Items)
	clone.Timeline = slices.Clone(o.Timeline)
	clone.Payment.Refunds = slices.Clone(o.Payment.Refunds)
	if o.Payment.PaidAt != nil {
		clone.Payment.PaidAt = timePtr(*o.Payment.PaidAt)
	}
	if o.Tracking != nil {
		tracking := *o.Tracking
		clone.Tracking = &tracking
	}
	if o.CancelledAt != nil {
		clone.CancelledAt = timePtr(*o.CancelledAt)
	}
	if o.ShippedAt != nil {
		clone.ShippedAt = timePtr(*o.ShippedAt)
	}
	if o.DeliveredAt != nil {
		clone.DeliveredAt = timePtr(*o.DeliveredAt)
	}
	return clone
}

func (o *Order) setItemStatus(status ItemStatus) {
	for i := range o.Items {
		o.Items[i].Status = status
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
