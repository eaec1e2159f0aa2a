// Package retry bounds calls to remote model services. Each attempt gets its
// own timeout and a failed call is retried at most once.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/tutor-go/internal/logging"
)

const (
	// DefaultDelay is the pause before the single retry.
	DefaultDelay = 500 * time.Millisecond
)

// Policy configures Do.
type Policy struct {
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first; capped at 1.
	Retries int
	// Delay is the pause before a retry. Zero uses DefaultDelay.
	Delay time.Duration
}

// Once returns a Policy with the given per-attempt timeout and one retry.
func Once(timeout time.Duration) Policy {
	return Policy{Timeout: timeout, Retries: 1}
}

// Do runs op under p. Cancellation of ctx is never retried.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	log := logging.FromContext(ctx)

	retries := p.Retries
	if retries > 1 {
		retries = 1
	}
	if retries < 0 {
		retries = 0
	}
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	var out T
	attempt := 0
	operation := func() error {
		attempt++
		actx := ctx
		cancel := context.CancelFunc(func() {})
		if p.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		v, err := op(actx)
		if err == nil {
			out = v
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warn("retry: attempt failed, retrying",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
