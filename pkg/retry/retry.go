// Package retry retries GPU backend operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/clock"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero retries until the context is cancelled.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64 `yaml:"multiplier,omitempty"`

	// Jitter randomizes each delay by +/- this fraction. 0 disables it.
	Jitter float64 `yaml:"jitter,omitempty"`

	// Retryable decides whether an error is worth another attempt.
	// If nil, every error is retried.
	Retryable func(error) bool `yaml:"-"`

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`

	// Clock drives the waits. If nil, uses real time.
	Clock clock.Clock `yaml:"-"`
}

// BackendInitConfig returns the policy used when opening a GPU backend:
// three attempts starting at 100ms and doubling.
func BackendInitConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs fn until it succeeds, the attempts run out, Retryable rejects the
// error, or ctx is cancelled. It returns the last error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.Jitter > 0 {
			spread := float64(delay) * cfg.Jitter
			wait = delay + time.Duration(rand.Float64()*2*spread-spread)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-clk.After(wait):
		}

		delay = time.Duration(math.Min(float64(delay)*cfg.Multiplier, float64(cfg.MaxDelay)))
	}

	return lastErr
}
