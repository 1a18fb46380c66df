package domain

import (
	"slices"
	"strconv"
)

// ReserveMovementID is the idempotency key for the decrement of one intent line.
func ReserveMovementID(intentID string, line int) string {
	return intentID + "-" + strconv.Itoa(line) + "-reserve"
}

// ReleaseMovementID is the idempotency key for giving back one intent line. Rollback
// and cancellation share it, so a line is restored at most once.
func ReleaseMovementID(intentID string, line int) string {
	return intentID + "-" + strconv.Itoa(line) + "-release"
}

// Open reports whether the sweeper still has work to do for the intent.
func (i StockIntent) Open() bool {
	return i.Status == StockIntentPending || i.Status == StockIntentReleasing
}

// Clone returns a deep copy of the intent.
func (i StockIntent) Clone() StockIntent {
	clone := i
	clone.Lines = slices.Clone(i.Lines)
	clone.Anomalies = slices.Clone(i.Anomalies)
	return clone
}

// Clone returns a deep copy of the product.
func (p Product) Clone() Product {
	clone := p
	clone.Variants = slices.Clone(p.Variants)
	clone.CustomizationTable = slices.Clone(p.CustomizationTable)
	return clone
}
