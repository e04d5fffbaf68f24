// Package ctxlog carries a *slog.Logger through a context.Context, the way
// a request ID or trace span would be. Components fetch their logger from
// the context they were handed rather than reaching for a package-level
// global, so a run's log lines can all be tagged with run-scoped fields
// (beam name, run ID) by whoever built that context.
package ctxlog

import (
	"context"
	"log/slog"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context with logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger embedded by WithLogger. If none was
// embedded, it falls back to slog.Default rather than panicking — this is
// a library, and a caller that forgot to attach a logger should still get
// a working (if less specific) one.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With returns a new context whose logger has the given attributes added,
// building on whatever logger FromContext would already return.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}
