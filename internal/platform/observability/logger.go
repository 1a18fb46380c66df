// Package observability provides the zap logger, request logging and tracing middleware.
package observability

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/customwear/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger builds a JSON logger using Cloud Logging key names. An unparsable level
// falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || strings.TrimSpace(level) == "" {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.MillisDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	return zap.Config{
		Level:             atomic,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}.Build()
}

// FromContext retrieves the request logger, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// ServiceLogger adapts zap to the event logger the services accept. The request logger
// on ctx wins over base so service events carry request ids; without one, a recorded
// actor is still attached.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			logger = scoped
		} else if actorID := requestctx.ActorID(ctx); actorID != "" {
			logger = logger.With(zap.String("actor_id", actorID))
		}

		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		zfields := make([]zap.Field, 0, len(keys)+1)
		zfields = append(zfields, zap.String("event", event))
		for _, key := range keys {
			if err, ok := fields[key].(error); ok {
				zfields = append(zfields, zap.NamedError(key, err))
				continue
			}
			zfields = append(zfields, zap.Any(key, fields[key]))
		}

		if ce := logger.Check(eventLevel(event), event); ce != nil {
			ce.Write(zfields...)
		}
	}
}

// eventLevel maps event suffixes to severities: failures and anomalies warn, the rest is info.
func eventLevel(event string) zapcore.Level {
	switch {
	case strings.Contains(event, "anomaly"), strings.HasSuffix(event, "_failed"), strings.HasSuffix(event, ".failed"):
		return zapcore.WarnLevel
	case strings.HasSuffix(event, ".error"):
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
