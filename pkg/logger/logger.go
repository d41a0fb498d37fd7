// Package logger provides structured logging for the tokend service on top
// of zap, with trace correlation from OpenTelemetry span context and
// masking of token/key shaped values.
package logger

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratumsec/tokend/pkg/constants"
)

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(ctx context.Context, message string, fields ...Field)

	// Info logs an informational message.
	Info(ctx context.Context, message string, fields ...Field)

	// Warn logs a warning message.
	Warn(ctx context.Context, message string, fields ...Field)

	// Error logs an error message.
	Error(ctx context.Context, message string, err error, fields ...Field)

	// WithFields creates a new logger with additional base fields.
	WithFields(fields ...Field) Logger

	// WithComponent creates a new logger scoped to a component.
	WithComponent(component string) Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool creates a boolean field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Time creates an RFC3339 time field.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.Format(time.RFC3339)}
}

// Any creates a field with any value.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

type zapLogger struct {
	z *zap.Logger
}

// New creates a Logger at the given level ("debug", "info", "warn",
// "error") writing JSON to stderr.
func New(level string) Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.NewNop()
	}
	return &zapLogger{z: z}
}

// NewNop creates a logger that discards everything. Intended for tests.
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func (l *zapLogger) Debug(ctx context.Context, message string, fields ...Field) {
	l.z.Debug(message, l.zapFields(ctx, fields)...)
}

func (l *zapLogger) Info(ctx context.Context, message string, fields ...Field) {
	l.z.Info(message, l.zapFields(ctx, fields)...)
}

func (l *zapLogger) Warn(ctx context.Context, message string, fields ...Field) {
	l.z.Warn(message, l.zapFields(ctx, fields)...)
}

func (l *zapLogger) Error(ctx context.Context, message string, err error, fields ...Field) {
	zfs := l.zapFields(ctx, fields)
	if err != nil {
		zfs = append(zfs, zap.Error(err))
	}
	l.z.Error(message, zfs...)
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZap(fields)...)}
}

func (l *zapLogger) WithComponent(component string) Logger {
	return &zapLogger{z: l.z.With(zap.String("component", component))}
}

func (l *zapLogger) zapFields(ctx context.Context, fields []Field) []zap.Field {
	zfs := toZap(fields)
	if ctx == nil {
		return zfs
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		zfs = append(zfs,
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	if requestID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok && requestID != "" {
		zfs = append(zfs, zap.String("request_id", requestID))
	}
	return zfs
}

func toZap(fields []Field) []zap.Field {
	zfs := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zfs = append(zfs, zap.Any(f.Key, sanitizeValue(f.Key, f.Value)))
	}
	return zfs
}

// sensitiveKeys lists substrings of field keys whose values must never be
// logged in full.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"private_key",
	"authorization",
	"api_key",
}

func sanitizeValue(key string, value any) any {
	// Only string values can carry secret material here. Counters and
	// durations with token-shaped names (tokens_removed and the like)
	// stay readable.
	s, ok := value.(string)
	if !ok {
		return value
	}
	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			if s == "" {
				return s
			}
			return maskString(s)
		}
	}
	return s
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
