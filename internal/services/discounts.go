package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type discountKind string

const (
	discountPercent discountKind = "percent"
	discountAmount  discountKind = "amount"
)

type discountRule struct {
	kind    discountKind
	percent decimal.Decimal
	amount  int64
}

// StaticDiscountResolver resolves codes from a fixed table such as the one loaded from
// configuration. Codes are matched case-insensitively.
type StaticDiscountResolver struct {
	rules map[string]discountRule
}

var _ DiscountResolver = (*StaticDiscountResolver)(nil)

// NewStaticDiscountResolver parses definitions of the form "percent:10" or "amount:500".
func NewStaticDiscountResolver(definitions map[string]string) (*StaticDiscountResolver, error) {
	rules := make(map[string]discountRule, len(definitions))
	for code, def := range definitions {
		key := strings.ToUpper(strings.TrimSpace(code))
		if key == "" {
			continue
		}
		kind, raw, ok := strings.Cut(strings.TrimSpace(def), ":")
		if !ok {
			return nil, fmt.Errorf("discounts: code %s: expected kind:value, got %q", key, def)
		}
		switch discountKind(strings.ToLower(kind)) {
		case discountPercent:
			pct, err := decimal.NewFromString(raw)
			if err != nil || pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThan(decimal.NewFromInt(100)) {
				return nil, fmt.Errorf("discounts: code %s: percent must be in (0, 100]", key)
			}
			rules[key] = discountRule{kind: discountPercent, percent: pct.Div(decimal.NewFromInt(100))}
		case discountAmount:
			amount, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || amount <= 0 {
				return nil, fmt.Errorf("discounts: code %s: amount must be a positive integer of minor units", key)
			}
			rules[key] = discountRule{kind: discountAmount, amount: amount}
		default:
			return nil, fmt.Errorf("discounts: code %s: unknown kind %q", key, kind)
		}
	}
	return &StaticDiscountResolver{rules: rules}, nil
}

// Resolve returns the discount for code against base, never exceeding base.
func (r *StaticDiscountResolver) Resolve(_ context.Context, code string, base int64) (int64, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	rule, ok := r.rules[key]
	if !ok {
		return 0, validationError("orders.discount", "invalid_discount_code", "discount code is not valid", map[string]any{"code": key})
	}
	var amount int64
	switch rule.kind {
	case discountPercent:
		amount = decimal.NewFromInt(base).Mul(rule.percent).Round(0).IntPart()
	case discountAmount:
		amount = rule.amount
	}
	return min(amount, max(base, 0)), nil
}
