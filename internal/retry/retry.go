// Package retry runs fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"math"
	"strings"
	"time"
)

// Defaults applied by Do when the corresponding option is zero.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
)

// transientSignatures are error-message fragments treated as retryable when
// no explicit allow-list is configured: network-level failures, timeouts,
// and throttling/unavailable HTTP statuses.
var transientSignatures = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"timeout",
	"timed out",
	"temporary failure",
	"429",
	"too many requests",
	"503",
	"service unavailable",
}

// Options configures Do. The zero value gives the documented defaults.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// RetryableErrors, when non-empty, replaces the built-in transient
	// signatures: only errors whose message contains one of these
	// substrings (case-insensitive) are retried.
	RetryableErrors []string

	// OnRetry, if set, is invoked before each backoff wait with the
	// 1-based attempt number that just failed, its error, and the
	// upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialDelay == 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Multiplier == 0 {
		o.Multiplier = DefaultMultiplier
	}
	return o
}

// Retryable classifies an error under the given allow-list (nil means the
// built-in transient signatures). Matching is case-insensitive substring
// search over the error message.
func Retryable(err error, allowList []string) bool {
	if err == nil {
		return false
	}
	signatures := transientSignatures
	if len(allowList) > 0 {
		signatures = allowList
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		if strings.Contains(msg, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

// Do runs op up to MaxRetries+1 times. Non-retryable errors abort
// immediately; exhausting all attempts returns the last error. In both cases
// the original error is propagated unchanged so callers can inspect it.
// Backoff waits select on ctx, so cancellation cuts a wait short.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == opts.MaxRetries || !Retryable(err, opts.RetryableErrors) {
			break
		}

		delay := backoffDelay(opts, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// backoffDelay computes min(initial * multiplier^attempt, max).
func backoffDelay(opts Options, attempt int) time.Duration {
	delay := time.Duration(float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt)))
	if delay > opts.MaxDelay || delay <= 0 {
		delay = opts.MaxDelay
	}
	return delay
}
