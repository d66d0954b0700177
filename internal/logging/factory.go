package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

// ContextWithFields returns a copy of ctx carrying fields in addition to the
// ones already attached. Loggers obtained from a Factory with that context
// include them.
func ContextWithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	existing := FieldsFromContext(ctx)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, contextKey{}, merged)
}

// FieldsFromContext returns the fields attached with ContextWithFields.
func FieldsFromContext(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	if fields, ok := ctx.Value(contextKey{}).([]zap.Field); ok {
		return fields
	}
	return nil
}

// Factory hands out named loggers derived from one shared base logger.
// It is safe for concurrent use.
type Factory struct {
	base *zap.Logger
}

// NewFactory wraps base. A nil base yields no-op loggers.
func NewFactory(base *zap.Logger) *Factory {
	if base == nil {
		base = zap.NewNop()
	}
	return &Factory{base: base}
}

// Logger returns a logger named name, enriched with the fields carried by ctx.
func (f *Factory) Logger(ctx context.Context, name string) *zap.Logger {
	logger := f.base.Named(name)
	if fields := FieldsFromContext(ctx); len(fields) > 0 {
		logger = logger.With(fields...)
	}
	return logger
}

// Base returns the unnamed logger the factory derives from.
func (f *Factory) Base() *zap.Logger {
	return f.base
}
