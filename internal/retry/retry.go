// Package retry provides exponential backoff retry functionality.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxRetries is the default maximum number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the default backoff base delay.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay is the default maximum backoff delay.
	DefaultMaxDelay = 10 * time.Second
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxRetries is the maximum number of retry attempts after the
	// first call. Default is 3.
	MaxRetries int

	// BaseDelay is the backoff base; the n-th retry waits
	// min(BaseDelay * 2^(n-1), MaxDelay). Default is 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Default is 10s.
	MaxDelay time.Duration

	// JitterFactor adds up to JitterFactor*delay of random extra delay
	// (0.0 to 1.0). Zero disables jitter, keeping delays deterministic.
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// GetMaxRetries returns the effective max retries.
func (c *Config) GetMaxRetries() int {
	if c == nil || c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// GetBaseDelay returns the effective base delay.
func (c *Config) GetBaseDelay() time.Duration {
	if c == nil || c.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return c.BaseDelay
}

// GetMaxDelay returns the effective max delay.
func (c *Config) GetMaxDelay() time.Duration {
	if c == nil || c.MaxDelay <= 0 {
		return DefaultMaxDelay
	}
	return c.MaxDelay
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each retry attempt.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors are retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each retry attempt.
	OnRetry OnRetryFunc
}

// Do executes a function with retry logic.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	maxRetries := cfg.GetMaxRetries()
	baseDelay := cfg.GetBaseDelay()
	maxDelay := cfg.GetMaxDelay()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt < maxRetries {
			backoff := Backoff(attempt+1, baseDelay, maxDelay, cfg.JitterFactor)

			if opts != nil && opts.OnRetry != nil {
				opts.OnRetry(attempt+1, lastErr, backoff)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}

// Backoff returns the delay before the n-th retry (1-based):
// min(base * 2^(n-1), max), plus optional jitter.
func Backoff(n int, base, maxDelay time.Duration, jitterFactor float64) time.Duration {
	if n < 1 {
		n = 1
	}

	backoff := float64(base) * math.Pow(2, float64(n-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitterFactor > 0 {
		//nolint:gosec // G404: jitter for retry timing is not security-sensitive
		backoff += backoff * jitterFactor * rand.Float64()
		if backoff > float64(maxDelay) {
			backoff = float64(maxDelay)
		}
	}

	return time.Duration(backoff)
}
