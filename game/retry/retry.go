// Package retry wraps idempotent remote calls with exponential backoff.
// It classifies failures as retryable or fatal and gives up early on the
// fatal class. Mutating journey-log writes must never go through this
// package; a duplicate write is worse than a dropped one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"syscall"
	"time"

	rand "math/rand/v2"
)

// jitterFraction is the uniform jitter applied to every backoff delay.
const jitterFraction = 0.1

// Config configures backoff behavior for a class of remote calls.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// A value of 0 or 1 means no retries.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
}

// DefaultConfig returns the retry settings used when a caller supplies none.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// ExhaustedError reports that every attempt failed with a retryable error.
// Unwrap exposes the error from the final attempt so callers can still
// classify the underlying failure.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// HTTPStatusError carries a remote HTTP status so the classifier can
// separate server-side failures from caller mistakes.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusCoder is implemented by remote-call errors that carry an HTTP
// status without depending on this package's error type.
type StatusCoder interface {
	HTTPStatus() int
}

// IsRetryable reports whether a failed attempt is worth repeating.
//
// Retryable: timeouts, HTTP 429, HTTP 5xx, and transport-level
// connect/reset failures. Fatal: context cancellation, HTTP 401/403,
// and every other 4xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.IsTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return retryableStatus(httpErr.StatusCode)
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		return retryableStatus(coder.HTTPStatus())
	}

	return false
}

func retryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// Do runs fn until it succeeds, fails fatally, or attempts run out.
// On exhaustion the returned ExhaustedError unwraps to the last
// classified failure.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffFor(cfg, attempt)):
		}
	}

	return &ExhaustedError{
		Attempts:      cfg.MaxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// backoffFor computes base * 2^(attempt-1) with uniform jitter, capped
// at the configured maximum.
func backoffFor(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	backoff += backoff * jitterFraction * (rand.Float64()*2 - 1)
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && backoff > max {
		backoff = max
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
