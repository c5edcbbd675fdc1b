package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastOpts keeps backoff waits negligible in tests.
var fastOpts = Options{
	MaxRetries:   3,
	InitialDelay: time.Millisecond,
	MaxDelay:     4 * time.Millisecond,
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	retries := 0

	opts := fastOpts
	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries++
	}

	result, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts <= 2 {
			return "", errors.New("dial tcp: connection refused")
		}
		return "ok", nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retries, "callback fires once per retry")
}

func TestDoAbortsOnNonRetryableError(t *testing.T) {
	attempts := 0
	retries := 0
	boom := errors.New("invalid credentials")

	opts := fastOpts
	opts.OnRetry = func(int, error, time.Duration) { retries++ }

	start := time.Now()
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, boom
	}, opts)

	assert.Same(t, boom, err, "original error propagates unchanged")
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, retries)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "no delay before aborting")
}

func TestDoExhaustionReturnsLastError(t *testing.T) {
	attempts := 0
	last := errors.New("request timed out")

	opts := fastOpts
	opts.MaxRetries = 2

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, last
	}, opts)

	assert.Same(t, last, err)
	assert.Equal(t, 3, attempts, "maxRetries+1 total attempts")
}

func TestDoAllowListOverridesBuiltins(t *testing.T) {
	opts := fastOpts
	opts.RetryableErrors = []string{"QUOTA EXCEEDED"}

	attempts := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("quota exceeded for project")
		}
		return attempts, nil
	}, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts, "allow-list match is case-insensitive")

	// With an allow-list configured, built-in transient signatures no
	// longer apply.
	attempts = 0
	timeout := errors.New("request timed out")
	_, err = Do(context.Background(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, timeout
	}, opts)
	assert.Same(t, timeout, err)
	assert.Equal(t, 1, attempts)
}

func TestDoBackoffDelayLaw(t *testing.T) {
	var delays []time.Duration

	opts := Options{
		MaxRetries:   4,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("503 service unavailable")
	}, opts)
	require.Error(t, err)

	assert.Equal(t, []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond, // capped at MaxDelay
	}, delays)
}

func TestDoContextCancelCutsWaitShort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := Options{
		MaxRetries:   3,
		InitialDelay: 10 * time.Second,
		OnRetry: func(int, error, time.Duration) {
			cancel()
		},
	}

	start := time.Now()
	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		return 0, errors.New("connection reset by peer")
	}, opts)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		msg       string
		retryable bool
	}{
		{"dial tcp: connection refused", true},
		{"read: connection reset by peer", true},
		{"context deadline exceeded (Client.Timeout)", true},
		{"unexpected status: 429 Too Many Requests", true},
		{"unexpected status: 503 Service Unavailable", true},
		{"unexpected status: 404 Not Found", false},
		{"invalid character '<' looking for beginning of value", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.retryable, Retryable(errors.New(tc.msg), nil), tc.msg)
	}

	assert.False(t, Retryable(nil, nil))
}
