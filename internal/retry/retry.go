package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Config 重试配置
// 只用于启动阶段连接 Postgres/Redis，模型调用从不重试。
type Config struct {
	Enabled         bool
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultConfig 默认重试配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// ExhaustedError 重试耗尽错误
type ExhaustedError struct {
	Operation string
	LastError error
	Attempts  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// permanentError 不应重试的错误（如连接串格式错误）
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记错误为不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// OnRetryFunc 重试回调函数类型
type OnRetryFunc func(err error, attempt int, delay time.Duration)

// LogRetry 以 slog 记录每次重试
func LogRetry(operation string) OnRetryFunc {
	return func(err error, attempt int, delay time.Duration) {
		slog.Warn("Retrying operation",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("err", err.Error()),
		)
	}
}

// CalculateDelay 计算延迟时间（指数退避）
func (c *Config) CalculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Do 执行带重试的函数
func Do[T any](ctx context.Context, cfg *Config, operation string, fn func(ctx context.Context) (T, error), onRetry OnRetryFunc) (T, error) {
	var zero T

	if cfg == nil {
		cfg = DefaultConfig()
	}

	if !cfg.Enabled {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}

		lastErr = err
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := cfg.CalculateDelay(attempt)
		if onRetry != nil {
			onRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, &ExhaustedError{Operation: operation, LastError: lastErr, Attempts: cfg.MaxRetries + 1}
}
