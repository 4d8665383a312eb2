package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy configures the bounded exponential backoff applied by
// WithRetry.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	ErrorChecker  RetryableErrorChecker
	Logger        *slog.Logger
	OperationName string
}

// DefaultRetryPolicy returns a sensible default: 3 retries, 100ms base
// delay, 2x exponential backoff capped at 5s, with jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry executes operation, retrying transient failures according to
// policy. Context cancellation during a backoff sleep returns ctx.Err()
// immediately.
func WithRetry(ctx context.Context, policy *RetryPolicy, operation func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1, "op", policy.OperationName)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("non-retryable error, stopping", "error", err, "error_type", classifyError(err))
			return lastErr
		}
		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if !waitWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay = calculateNextDelay(delay, policy)
	}

	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func shouldRetry(err error, checker RetryableErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return (&DefaultErrorChecker{}).IsRetryable(err)
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func calculateNextDelay(currentDelay time.Duration, policy *RetryPolicy) time.Duration {
	nextDelay := time.Duration(float64(currentDelay) * policy.Multiplier)
	if nextDelay > policy.MaxDelay {
		nextDelay = policy.MaxDelay
	}
	if policy.Jitter {
		nextDelay += time.Duration(float64(nextDelay) * 0.1 * rand.Float64())
	}
	return nextDelay
}
