// Package logging provides a small, context-scoped logging facade backed by
// zap. Request handlers get a logger named after the route, and fields added
// with Track are emitted on the request's summary log line.
package logging

import "context"

type ctxkey struct {
	logger Logger
}

// With attaches a logger to the context, starting a new logging scope.
//
//	for _, p := range providers {
//	  ctx := logging.With(ctx, logging.FromContext(ctx).Named(string(p)))
//	  refresh(ctx, p)
//	}
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{logger: logger})
}

// FromContext returns the scoped logger, or a no-op logger when the context
// has none.
func FromContext(ctx context.Context) Logger {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return c.logger
	}
	return nopLogger
}

// EnsureLogger returns ctx unchanged if it already carries a logger, otherwise
// it attaches the fallback.
func EnsureLogger(ctx context.Context, fallback Logger) context.Context {
	if _, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		return ctx
	}
	return With(ctx, fallback)
}

// Track a field for the lifetime of the current scope. Tracked values are
// visible to the code that created the scope, which is how handlers surface
// fields on the request log line. Create a new scope before tracking inside
// loops.
func Track(ctx context.Context, field string, value any) {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		c.logger = c.logger.With(field, value)
	}
}

// Logger is modelled on zap's SugaredLogger.
type Logger interface {
	Debug(args ...any)
	Debugw(msg string, keysAndValues ...any)
	Debugf(msg string, args ...any)
	Info(args ...any)
	Infow(msg string, keysAndValues ...any)
	Infof(msg string, args ...any)
	Warn(args ...any)
	Warnw(msg string, keysAndValues ...any)
	Warnf(msg string, args ...any)
	Error(args ...any)
	Errorw(msg string, keysAndValues ...any)
	Errorf(msg string, args ...any)
	Fatalw(msg string, keysAndValues ...any)

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger with a structured field attached.
	With(field string, value any) Logger
}

func Debugw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Debugf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debugf(msg, args...)
}

func Info(ctx context.Context, msg string) {
	FromContext(ctx).Info(msg)
}

func Infow(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Infow(msg, fields...)
}

func Infof(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Infof(msg, args...)
}

func Warnw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Warnf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warnf(msg, args...)
}

func Errorw(ctx context.Context, msg string, fields ...any) {
	FromContext(ctx).Errorw(msg, fields...)
}

func Errorf(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Errorf(msg, args...)
}
