// Package retry provides bounded exponential backoff with jitter and the
// retry-wrapping LLM and Tool capabilities built on it.
//
// Failures are classified as retryable (rate limiting, 5xx, network and
// timeout errors, tool errors marked transient) or fatal (validation, auth,
// context length, cancellation). Only retryable failures are retried, never
// more than Config.MaxAttempts times; the last failure is then returned
// wrapped in an *ExhaustedError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/telemetry"
)

type (
	// Config configures retry behavior.
	Config struct {
		// MaxAttempts is the maximum number of attempts (including the initial attempt).
		// A value of 0 or 1 means no retries.
		MaxAttempts int
		// InitialBackoff is the initial delay before the first retry.
		InitialBackoff time.Duration
		// MaxBackoff is the maximum delay between retries.
		MaxBackoff time.Duration
		// BackoffMultiplier is the factor by which the backoff increases after each retry.
		// A value of 2.0 provides exponential backoff.
		BackoffMultiplier float64
		// Jitter is the fraction of the backoff randomized in each direction.
		// A value of 0.1 adds up to 10% jitter.
		Jitter float64
	}

	// Classifier reports whether an error is worth retrying.
	Classifier func(error) bool

	// Option customizes a retry loop.
	Option func(*options)

	options struct {
		classify Classifier
		logger   telemetry.Logger
		onRetry  func(attempt int, err error, delay time.Duration)
		name     string
	}

	// ExhaustedError is returned when all retry attempts have been exhausted.
	ExhaustedError struct {
		// Attempts is the number of attempts made.
		Attempts int
		// TotalDuration is the total time spent retrying.
		TotalDuration time.Duration
		// LastError is the error from the last attempt.
		LastError error
	}

	// HTTPStatusError represents an HTTP error with a status code.
	HTTPStatusError struct {
		StatusCode int
		Message    string
	}
)

// DefaultConfig returns a sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// WithClassifier replaces IsRetryable.
func WithClassifier(c Classifier) Option {
	return func(o *options) { o.classify = c }
}

// WithLogger logs each retry at warning level.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithName labels log entries with the operation name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// OnRetry registers a callback invoked before each backoff.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

// Unwrap returns the underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable determines if an error is retryable.
// Retryable errors include:
// - LLM errors classified as rate limited, unavailable or network
// - Tool errors marked transient
// - Network timeouts, refused and reset connections
// - HTTP 429, 500, 502, 503 and 504
// - Context deadline exceeded (but not context canceled)
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if le, ok := capability.AsLLMError(err); ok {
		return le.Retryable()
	}
	var te *capability.ToolError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	var we *capability.WorkerSpawnError
	if errors.As(err, &we) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// Do executes fn, retrying retryable failures with exponential backoff.
// Non-retryable errors are returned as is; exhausting the attempts returns an
// *ExhaustedError wrapping the last error. Cancelling ctx aborts the wait and
// returns the context error joined with the last failure.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, opts ...Option) error {
	o := options{classify: IsRetryable}
	for _, opt := range opts {
		opt(&o)
	}
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
		if !o.classify(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		if attempt >= cfg.MaxAttempts {
			break
		}
		backoff := calculateBackoff(cfg, attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, err, backoff)
		}
		if o.logger != nil {
			o.logger.Warn(ctx, "retrying after transient failure",
				"operation", o.name, "attempt", attempt, "backoff", backoff.String(), "error", err.Error())
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		case <-timer.C:
		}
	}
	return &ExhaustedError{
		Attempts:      cfg.MaxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// calculateBackoff computes the backoff duration for a given attempt.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		jitter := backoff * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
		backoff += jitter
	}
	if backoff < 0 {
		return 0
	}
	return time.Duration(backoff)
}
