// Package requestctx carries per-request values between middleware, handlers and services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type scopeKey struct{}

// scope is stored by value; every With* call copies it so parents never see children's values.
type scope struct {
	logger  *zap.Logger
	trace   TraceInfo
	traced  bool
	actorID string
}

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func current(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func with(ctx context.Context, update func(*scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := current(ctx)
	update(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithLogger stores the request logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, func(s *scope) { s.logger = logger })
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if logger := current(ctx).logger; logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, func(s *scope) { s.trace, s.traced = info, true })
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	s := current(ctx)
	return s.trace, s.traced
}

func TraceID(ctx context.Context) string {
	return current(ctx).trace.TraceID
}

// WithActor records the authenticated caller's uid.
func WithActor(ctx context.Context, actorID string) context.Context {
	return with(ctx, func(s *scope) { s.actorID = actorID })
}

// ActorID returns the uid recorded by WithActor, or "" for anonymous requests.
func ActorID(ctx context.Context) string {
	return current(ctx).actorID
}
