// internal/retry/retry_test.go
package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient error")

func TestPolicy(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		// Arrange
		attempts := 0
		failingFunc := func(int) error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		}

		policy := New(
			WithMaxAttempts(5),
			WithInitialDelay(time.Millisecond),
			WithMaxDelay(10*time.Millisecond),
			WithJitter(true),
		)

		// Act
		err := policy.Execute(context.Background(), failingFunc)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 3, attempts, "Should succeed on third attempt")
	})

	t.Run("stops at the attempt bound", func(t *testing.T) {
		attempts := 0
		policy := New(WithMaxAttempts(4), WithInitialDelay(time.Millisecond))

		err := policy.Execute(context.Background(), func(int) error {
			attempts++
			return errTransient
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 4, attempts)

		var exhausted *ExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, 4, exhausted.Attempts)
	})

	t.Run("non-retryable errors return immediately", func(t *testing.T) {
		permanent := errors.New("disk full")
		attempts := 0
		policy := New(
			WithMaxAttempts(5),
			WithInitialDelay(time.Millisecond),
			WithRetryIf(func(err error) bool { return errors.Is(err, errTransient) }),
		)

		err := policy.Execute(context.Background(), func(int) error {
			attempts++
			return permanent
		})

		assert.Equal(t, permanent, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("passes the attempt number", func(t *testing.T) {
		var seen []int
		policy := New(WithMaxAttempts(3), WithInitialDelay(time.Millisecond))

		_ = policy.Execute(context.Background(), func(attempt int) error {
			seen = append(seen, attempt)
			return errTransient
		})

		assert.Equal(t, []int{1, 2, 3}, seen)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		policy := New(WithMaxAttempts(10), WithInitialDelay(time.Second), WithBackoff(false))

		err := policy.Execute(ctx, func(int) error {
			return errTransient
		})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("fixed delay does not grow", func(t *testing.T) {
		policy := New(WithInitialDelay(10*time.Millisecond), WithBackoff(false))

		assert.Equal(t, 10*time.Millisecond, policy.calculateDelay(0))
		assert.Equal(t, 10*time.Millisecond, policy.calculateDelay(3))
	})

	t.Run("backoff is capped", func(t *testing.T) {
		policy := New(
			WithInitialDelay(10*time.Millisecond),
			WithMaxDelay(25*time.Millisecond),
			WithBackoff(true),
		)

		assert.Equal(t, 20*time.Millisecond, policy.calculateDelay(1))
		assert.Equal(t, 25*time.Millisecond, policy.calculateDelay(4))
	})

	t.Run("attempt bound never drops below one", func(t *testing.T) {
		policy := New(WithMaxAttempts(0))
		assert.Equal(t, 1, policy.MaxAttempts())
	})
}
