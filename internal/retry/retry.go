// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted is matched by the error Execute returns once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// ExhaustedError reports the attempt count and the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Policy defines how to retry failed operations
type Policy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       bool
	retryIf      func(error) bool
	logger       *zap.Logger
}

// Option configures retry behavior
type Option func(*Policy)

// WithMaxAttempts sets the total number of attempts, including the first one
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.maxAttempts = n
	}
}

// WithInitialDelay sets the delay before the second attempt
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.initialDelay = d
	}
}

// WithMaxDelay caps the delay between attempts
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.maxDelay = d
	}
}

// WithBackoff toggles exponential growth of the delay. Disabled means a fixed delay.
func WithBackoff(enabled bool) Option {
	return func(p *Policy) {
		if enabled {
			p.multiplier = 2.0
		} else {
			p.multiplier = 1.0
		}
	}
}

// WithJitter enables jitter to spread out competing writers
func WithJitter(enabled bool) Option {
	return func(p *Policy) {
		p.jitter = enabled
	}
}

// WithRetryIf restricts retries to errors the predicate accepts.
// Other errors are returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) {
		p.retryIf = fn
	}
}

// WithLogger adds logging to retry attempts
func WithLogger(logger *zap.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// New creates a retry policy
func New(opts ...Option) *Policy {
	p := &Policy{
		maxAttempts:  3,
		initialDelay: 50 * time.Millisecond,
		maxDelay:     2 * time.Second,
		multiplier:   2.0,
		retryIf:      func(error) bool { return true },
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	return p
}

// MaxAttempts returns the attempt bound
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// attempt bound is reached. The loop never recurses.
func (p *Policy) Execute(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt + 1)
		if err == nil {
			if attempt > 0 {
				p.logger.Debug("operation succeeded after retry",
					zap.Int("attempt", attempt+1),
					zap.Int("maxAttempts", p.maxAttempts))
			}
			return nil
		}
		if !p.retryIf(err) {
			return err
		}
		lastErr = err

		if attempt == p.maxAttempts-1 {
			break
		}

		delay := p.calculateDelay(attempt)

		p.logger.Debug("operation failed, retrying",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", p.maxAttempts),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	p.logger.Warn("operation failed after all retries",
		zap.Error(lastErr),
		zap.Int("attempts", p.maxAttempts))

	return &ExhaustedError{Attempts: p.maxAttempts, Err: lastErr}
}

// calculateDelay computes the delay after the given zero-based attempt
func (p *Policy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt))

	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}

	if p.jitter {
		// between 0.5x and 1.5x
		delay = delay * (0.5 + rand.Float64())
	}

	return time.Duration(delay)
}
