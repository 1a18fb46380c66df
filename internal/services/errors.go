package services

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/customwear/api/internal/repositories"
)

var (
	// ErrValidation signals malformed or out-of-range input.
	ErrValidation = errors.New("services: validation failed")
	// ErrNotFound indicates a missing order, product, variant or rule.
	ErrNotFound = errors.New("services: not found")
	// ErrConflict covers insufficient stock, duplicate keys and concurrent updates.
	ErrConflict = errors.New("services: conflict")
	// ErrInvalidState indicates an operation not allowed in the current order state.
	ErrInvalidState = errors.New("services: invalid state")
	// ErrExternalService indicates a backing store or provider could not be reached.
	ErrExternalService = errors.New("services: external service unavailable")
	// ErrUnauthorized indicates a missing or invalid actor.
	ErrUnauthorized = errors.New("services: unauthorized")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("services: forbidden")
)

// Error is the typed failure returned by every service. errors.Is matches both the
// kind sentinel and the wrapped cause.
type Error struct {
	Kind    error
	Code    string
	Op      string
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(kind error, op, code, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Code: code, Message: message, Details: maps.Clone(details)}
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// AsError extracts the typed service error.
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

func validationError(op, code, message string, details map[string]any) *Error {
	return newError(ErrValidation, op, code, message, details)
}

// mapRepositoryError converts persistence failures into the service taxonomy.
func mapRepositoryError(op string, err error, details map[string]any) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return mapStockError(op, stockErr, details)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return newError(ErrNotFound, op, "not_found", "resource not found", details).wrap(err)
		case repoErr.IsConflict():
			return newError(ErrConflict, op, "conflict", "resource was modified concurrently or already exists", details).wrap(err)
		case repoErr.IsUnavailable():
			return newError(ErrExternalService, op, "storage_unavailable", "storage temporarily unavailable", details).wrap(err)
		}
	}
	return newError(ErrExternalService, op, "storage_error", "storage operation failed", details).wrap(err)
}

func mapStockError(op string, stockErr *repositories.StockError, details map[string]any) error {
	merged := maps.Clone(details)
	if merged == nil {
		merged = make(map[string]any)
	}
	merged["product_id"] = stockErr.ProductID
	merged["variant_id"] = stockErr.VariantID
	merged["requested"] = stockErr.Requested

	switch stockErr.Code {
	case repositories.StockErrorInsufficient:
		merged["available"] = stockErr.Available
		return newError(ErrConflict, op, string(stockErr.Code), "insufficient stock", merged).wrap(stockErr)
	case repositories.StockErrorNoMatch:
		return newError(ErrNotFound, op, string(stockErr.Code), "variant not found in inventory", merged).wrap(stockErr)
	default:
		return newError(ErrConflict, op, string(stockErr.Code), "stock movement rejected", merged).wrap(stockErr)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
