package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"netsync/internal/domain/ports"
)

// RetryConfig bounds retries of transient remote failures
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay  time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay      time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
}

// Validate checks the retry configuration
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be positive")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay must be >= initial_delay")
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be >= 1")
	}
	return nil
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// NoRetryConfig disables retries
func NoRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    0,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1,
	}
}

// newBackOff builds the exponential policy for config
func newBackOff(ctx context.Context, config RetryConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialDelay
	b.MaxInterval = config.MaxDelay
	b.Multiplier = config.BackoffFactor
	b.MaxElapsedTime = 0 // bounded by MaxRetries

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(config.MaxRetries)), ctx)
}

// ExecuteWithRetry runs operation and retries it with exponential backoff
// while it fails with a transient error. Other errors are returned at once.
func ExecuteWithRetry(ctx context.Context, config RetryConfig, operation func() error) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := operation()
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx, config))

	if err != nil && attempts > 1 && IsRetryableError(err) {
		return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
	}
	return err
}

// IsRetryableError reports whether err is a transport failure. Application
// rejections and missing references are never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return ports.IsTransient(err)
}
