// Package retry wraps flaky external calls with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaxRetries is the attempt count before giving up.
	DefaultMaxRetries = 3
	// DefaultInitialDelay is the wait before the second attempt; it doubles
	// after each failure. No jitter.
	DefaultInitialDelay = 500 * time.Millisecond
)

// Options tune a retry loop. Zero values fall back to the defaults.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Do runs fn up to MaxRetries times with doubling delays between attempts.
// Exhaustion returns the last error. Context cancellation cuts the backoff
// short.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	delay := opts.InitialDelay
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == opts.MaxRetries {
			break
		}
		opts.Logger.Warn("call failed; retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
	}
	return zero, fmt.Errorf("retry: %d attempts exhausted: %w", opts.MaxRetries, lastErr)
}
