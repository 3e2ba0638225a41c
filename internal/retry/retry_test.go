package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		Enabled:         true,
		MaxRetries:      maxRetries,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2,
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := &Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, ExponentialBase: 2}
	assert.Equal(t, time.Second, cfg.CalculateDelay(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateDelay(1))
	assert.Equal(t, 4*time.Second, cfg.CalculateDelay(2))
	assert.Equal(t, 5*time.Second, cfg.CalculateDelay(3))
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int

	got, err := Do(context.Background(), fastConfig(3), "connect", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	}, func(_ error, attempt int, _ time.Duration) {
		retried = append(retried, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoExhausted(t *testing.T) {
	cause := errors.New("connection refused")
	calls := 0

	_, err := Do(context.Background(), fastConfig(2), "postgres", func(context.Context) (int, error) {
		calls++
		return 0, cause
	}, LogRetry("postgres"))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "postgres", exhausted.Operation)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	cause := errors.New("invalid dsn")
	calls := 0

	_, err := Do(context.Background(), fastConfig(5), "postgres", func(context.Context) (int, error) {
		calls++
		return 0, Permanent(cause)
	}, nil)

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestDoDisabled(t *testing.T) {
	cfg := fastConfig(5)
	cfg.Enabled = false
	calls := 0

	_, err := Do(context.Background(), cfg, "redis", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(5)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	_, err := Do(ctx, cfg, "redis", func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("boom")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}
