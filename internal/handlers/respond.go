package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/platform/auth"
	"github.com/customwear/api/internal/platform/httpx"
	"github.com/customwear/api/internal/services"
)

const defaultMaxBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

func init() {
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation. It writes
// the error response itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, defaultMaxBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if required {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errEmptyBody.Error(), http.StatusBadRequest))
			return false
		}
		return true
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest).
			WithDetails(map[string]any{"reason": err.Error()}))
		return false
	}
	if err := validate.StructCtx(ctx, dst); err != nil {
		writeValidationError(ctx, w, err)
		return false
	}
	return true
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fieldPath(fe.Namespace())] = fe.Tag()
	}
	httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "request validation failed", http.StatusBadRequest).
		WithDetails(map[string]any{"fields": fields}))
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// writeServiceError maps the service taxonomy onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, services.ErrValidation):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, services.ErrExternalService):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, services.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, services.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	message := http.StatusText(status)
	var details map[string]any
	if svcErr, ok := services.AsError(err); ok {
		if svcErr.Code != "" {
			code = svcErr.Code
		}
		if svcErr.Message != "" {
			message = svcErr.Message
		}
		details = svcErr.Details
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status).WithDetails(details))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// parseMoney converts a decimal string field into minor units, writing a 400 on failure.
func parseMoney(ctx context.Context, w http.ResponseWriter, field, raw string) (int64, bool) {
	amount, err := domain.ParseMinor(strings.TrimSpace(raw))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", field+" must be a decimal amount with at most two fractional digits", http.StatusBadRequest).
			WithDetails(map[string]any{"field": field}))
		return 0, false
	}
	return amount, true
}

func money(amount int64) string {
	return domain.FormatMinor(amount)
}
