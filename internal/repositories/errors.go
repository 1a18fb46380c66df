package repositories

import (
	"errors"
	"fmt"

	domain "github.com/customwear/api/internal/domain"
)

// ErrorKind categorises persistence failures so services can map them without knowing
// the backend.
type ErrorKind string

const (
	ErrorKindUnknown     ErrorKind = "unknown"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// Error is the RepositoryError shared by every storage backend.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*Error)(nil)

// NewError constructs a categorised repository error.
func NewError(op string, kind ErrorKind, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == ErrorKindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == ErrorKindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }

// StockErrorCode enumerates reasons a stock movement was not applied.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates the decrement would make stock negative.
	StockErrorInsufficient StockErrorCode = "insufficient_stock"
	// StockErrorNoMatch indicates the product or variant addressed by the movement does not exist.
	StockErrorNoMatch StockErrorCode = "stock_no_match"
	// StockErrorMovementApplied indicates the movement id was already applied.
	StockErrorMovementApplied StockErrorCode = "movement_applied"
	// StockErrorMovementMissing indicates the movement named in Requires was never applied.
	StockErrorMovementMissing StockErrorCode = "movement_missing"
)

// StockError reports a rejected stock movement.
type StockError struct {
	Op         string
	Code       StockErrorCode
	MovementID string
	ProductID  string
	VariantID  string
	Requested  int
	Available  int
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s (movement=%s product=%s variant=%s requested=%d available=%d)",
		e.Code, e.MovementID, e.ProductID, e.VariantID, e.Requested, e.Available)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// NewStockError constructs a stock error for a movement.
func NewStockError(op string, code StockErrorCode, movementID, productID, variantID string, requested, available int) *StockError {
	return &StockError{
		Op:         op,
		Code:       code,
		MovementID: movementID,
		ProductID:  productID,
		VariantID:  variantID,
		Requested:  requested,
		Available:  available,
	}
}

// IsStockError reports whether err carries a stock error with the given code.
func IsStockError(err error, code StockErrorCode) bool {
	var stockErr *StockError
	return errors.As(err, &stockErr) && stockErr.Code == code
}

// ErrCounterInvalidInput is returned when a counter id or step is unusable.
var ErrCounterInvalidInput = errors.New("counter: invalid input")

// ErrIntentStatusChanged is wrapped by conflict errors from a conditional intent update
// whose expected status no longer holds.
var ErrIntentStatusChanged = errors.New("stock intent status changed")

// IntentStatusChanged builds the conflict returned when a conditional intent update loses.
func IntentStatusChanged(op, intentID string, expected, actual domain.StockIntentStatus) *Error {
	return NewError(op, ErrorKindConflict, fmt.Errorf("%w: intent %s is %s, expected %s", ErrIntentStatusChanged, intentID, actual, expected))
}
