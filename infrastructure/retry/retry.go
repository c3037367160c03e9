// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrMaxAttemptsExceeded wraps the last error once every attempt has failed.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Config configures retry behavior.
type Config struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// IsRetryable decides whether err warrants another attempt.
	IsRetryable func(error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns the backoff used for connection establishment.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		IsRetryable:  DefaultIsRetryable,
	}
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"temporary failure",
	"network is unreachable",
	"i/o timeout",
	"the database system is starting up",
	"loading the dataset in memory",
}

// DefaultIsRetryable treats network errors and a handful of well-known
// transient messages as retryable. Caller cancellation is never retried.
func DefaultIsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.IsRetryable == nil {
		c.IsRetryable = d.IsRetryable
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cfg.IsRetryable(lastErr) || attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}

	if !cfg.IsRetryable(lastErr) {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
}
