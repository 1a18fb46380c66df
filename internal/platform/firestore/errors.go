package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/customwear/api/internal/repositories"
)

// WrapError annotates Firestore errors with repository semantics. Context cancellations
// and errors that already carry repository semantics are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return repositories.NewError(op, repositories.ErrorKindNotFound, err)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return repositories.NewError(op, repositories.ErrorKindConflict, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.NewError(op, repositories.ErrorKindUnavailable, err)
	}
	if errors.Is(err, ErrProviderClosed) || errors.Is(err, ErrProjectRequired) {
		return repositories.NewError(op, repositories.ErrorKindUnavailable, err)
	}
	return repositories.NewError(op, repositories.ErrorKindUnknown, err)
}

// IsNotFound reports whether err is a Firestore NotFound status.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
