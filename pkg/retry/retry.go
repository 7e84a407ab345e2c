// Package retry wraps individual store and network calls with bounded
// retries and exponential backoff. Only transient failures are retried;
// anything else surfaces immediately as a per-record error.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"syscall"
	"time"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultConfig covers the pipeline's store calls: three attempts,
// starting at 200ms, capped at 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// WithAttempts returns a copy of c with MaxAttempts overridden.
func (c Config) WithAttempts(n int) Config {
	if n > 0 {
		c.MaxAttempts = n
	}
	return c
}

func (c Config) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// IsTransient reports whether an error is worth retrying: timeouts,
// connection refusals/resets, and short reads from flaky networks.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn until it succeeds, fails non-transiently, exhausts attempts, or
// ctx is cancelled. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !IsTransient(last) || attempt == cfg.MaxAttempts {
			return last
		}
		select {
		case <-time.After(cfg.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return last
}
