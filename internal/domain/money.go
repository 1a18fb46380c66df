package domain

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ErrInvalidAmount is returned when a decimal amount cannot be represented in minor units.
var ErrInvalidAmount = errors.New("domain: invalid amount")

// FormatMinor renders minor units as a two decimal string, e.g. 1200 -> "12.00".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// ParseMinor converts a decimal string such as "30.50" into minor units. More than two
// fractional digits are rejected rather than rounded, as are amounts outside int64.
func ParseMinor(raw string) (int64, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, errors.Join(ErrInvalidAmount, err)
	}
	scaled := value.Shift(2)
	if !scaled.Equal(scaled.Truncate(0)) || scaled.GreaterThan(maxMinor) || scaled.LessThan(minMinor) {
		return 0, ErrInvalidAmount
	}
	return scaled.IntPart(), nil
}

// ApplyRate multiplies amount by rate and rounds half away from zero to a whole minor unit.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}
