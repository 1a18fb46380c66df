package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/customwear/api/internal/services"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time

	refunds stripeRefundAPI
}

// StripeProvider refunds Stripe payment intents and charges.
type StripeProvider struct {
	refunds stripeRefundAPI
	account string
	clock   func() time.Time
	logger  StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	refunds := cfg.refunds
	if refunds == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		refunds = client.New(apiKey, cfg.Backends).Refunds
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Refund issues a refund for the captured payment. Transaction ids beginning with "ch_"
// are treated as charges; anything else as a payment intent.
func (p *StripeProvider) Refund(ctx context.Context, req services.RefundRequest) (services.RefundResult, error) {
	if p == nil {
		return services.RefundResult{}, errors.New("stripe: provider is nil")
	}
	txn := strings.TrimSpace(req.TransactionID)
	if txn == "" {
		return services.RefundResult{}, errors.New("stripe: transaction id is required")
	}
	if req.Amount <= 0 {
		return services.RefundResult{}, errors.New("stripe: refund amount must be positive")
	}

	params := &stripe.RefundParams{Amount: stripe.Int64(req.Amount)}
	params.Context = ctx
	if strings.HasPrefix(txn, "ch_") {
		params.Charge = stripe.String(txn)
	} else {
		params.PaymentIntent = stripe.String(txn)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	params.Reason = stripe.String(mapStripeRefundReason(req.Reason))
	params.Metadata = map[string]string{"order_id": req.OrderID}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		params.Metadata["reason"] = reason
	}

	refund, err := p.refunds.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			p.logger(ctx, "payments.stripe.refund_failed", map[string]any{
				"orderId": req.OrderID,
				"code":    string(stripeErr.Code),
				"status":  stripeErr.HTTPStatusCode,
			})
		}
		return services.RefundResult{}, fmt.Errorf("stripe: refund %s: %w", txn, err)
	}

	processedAt := p.clock()
	if refund.Created > 0 {
		processedAt = time.Unix(refund.Created, 0).UTC()
	}
	p.logger(ctx, "payments.stripe.refunded", map[string]any{
		"orderId":  req.OrderID,
		"refundId": refund.ID,
		"status":   string(refund.Status),
		"amount":   req.Amount,
	})
	return services.RefundResult{
		ExternalID:  refund.ID,
		Status:      string(refund.Status),
		ProcessedAt: processedAt,
	}, nil
}

func mapStripeRefundReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "fraud"):
		return string(stripe.RefundReasonFraudulent)
	case strings.Contains(lower, "duplicate"):
		return string(stripe.RefundReasonDuplicate)
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}
