// Package retry holds the retry and pacing policies shared by the harvest,
// store and geocode layers. Every wait goes through a Sleeper so tests can
// run the policies without real delays.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Window is a randomised delay drawn uniformly from [Min, Max].
type Window struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Fixed returns a Window that always yields d.
func Fixed(d time.Duration) Window { return Window{Min: d, Max: d} }

// Between returns a Window spanning [min, max].
func Between(lo, hi time.Duration) Window { return Window{Min: lo, Max: hi} }

// Pick draws a delay from the window. A zero window yields zero.
func (w Window) Pick() time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + rand.N(w.Max-w.Min+1)
}

// IsZero reports whether the window never waits.
func (w Window) IsZero() bool { return w.Min <= 0 && w.Max <= 0 }

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts counts the first try. Values below 1 mean a single attempt.
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelay is the wait after the first failure. With Exponential it
	// doubles on every further failure.
	BaseDelay time.Duration `yaml:"base_delay"`
	// MaxDelay caps the computed backoff. Zero = no cap.
	MaxDelay time.Duration `yaml:"max_delay"`
	// Jitter adds a uniform [0, Jitter] to every wait.
	Jitter time.Duration `yaml:"jitter"`
	// Exponential switches from a fixed BaseDelay to BaseDelay * 2^(n-1).
	Exponential bool `yaml:"exponential"`
}

// Attempts returns the effective number of attempts (at least 1).
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	if p.Exponential && attempt > 1 {
		d = p.BaseDelay << uint(attempt-1)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter + 1)
	}
	return d
}

// Sleeper suspends the caller. Implementations must return ctx.Err() when the
// context ends before the delay elapses.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// Wall is the real-time Sleeper.
var Wall Sleeper = SleeperFunc(sleepCtx)

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder is a Sleeper that returns immediately and remembers every
// requested delay. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Delays returns a copy of the recorded delays.
func (r *Recorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// Total returns the sum of the recorded delays.
func (r *Recorder) Total() time.Duration {
	var sum time.Duration
	for _, d := range r.Delays() {
		sum += d
	}
	return sum
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. retryable == nil retries every error. The last error is
// returned wrapped with the attempt count.
func Do(ctx context.Context, p Policy, s Sleeper, retryable func(error) bool, fn func(attempt int) error) error {
	if s == nil {
		s = Wall
	}
	attempts := p.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < attempts {
			wait := p.Backoff(attempt)
			slog.Debug("retry: backing off", "attempt", attempt, "max_attempts", attempts,
				"backoff_ms", wait.Milliseconds(), "error", err)
			if err := s.Sleep(ctx, wait); err != nil {
				return fmt.Errorf("retry: cancelled after attempt %d: %w", attempt, lastErr)
			}
		}
	}
	return fmt.Errorf("retry: %d attempts: %w", attempts, lastErr)
}
