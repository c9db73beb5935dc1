// Package retry wraps calls the Async Bridge makes into the logical
// filesystem with exponential backoff, so a transient
// failure from that collaborator doesn't immediately surface as a
// fetch failure to the kernel.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
)

// Config defines retry behavior for bridge fetch calls.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the
	// first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the backoff delay between attempts.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each
	// attempt.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds randomness to delay so concurrent fetches to the
	// same collaborator don't retry in lockstep.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists the error codes, beyond a ProviderError's
	// own Retryable flag, that should trigger a retry.
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns retry behavior tuned for a logical filesystem
// collaborator: a handful of attempts with a short initial delay,
// since the bridge's fetch_* calls are already asynchronous from the
// kernel's point of view and don't need to hide long waits from it.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeConnectionTimeout,
			errors.ErrCodeConnectionFailed,
			errors.ErrCodeNetworkError,
			errors.ErrCodeOperationTimeout,
			errors.ErrCodeResourceExhausted,
			errors.ErrCodeWorkerBusy,
			errors.ErrCodeInternalError,
		},
	}
}

// Retryer executes bridge fetch calls with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling in defaults for any zero-valued field.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Do runs fn with retry logic, ignoring context cancellation.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext runs fn with retry logic, aborting early if ctx is
// done. Used by internal/bridge to bound a fetch to the per-job
// timeout it imposes on calls into the logical filesystem.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("logical filesystem call canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		if attempt < r.config.MaxAttempts {
			delay := r.calculateDelay(attempt)

			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("logical filesystem call canceled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("logical filesystem call failed after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// shouldRetry reports whether err is retryable. Whether an attempt is
// left is decided by the caller's loop, so an exhausted retryable error
// is still wrapped with the attempt count.
func (r *Retryer) shouldRetry(err error, attempt int) bool {
	var provErr *errors.ProviderError
	if stderr.As(err, &provErr) {
		if provErr.Retryable {
			return true
		}

		for _, code := range r.config.RetryableErrors {
			if provErr.Code == code {
				return true
			}
		}
	}

	return false
}

// calculateDelay computes the backoff delay before the given attempt.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}
