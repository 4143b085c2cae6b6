package booking

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how patiently an operation is retried.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable decides which errors are worth another attempt. Defaults to IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries conflicts three more times starting at 25ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, InitialBackoff: 25 * time.Millisecond, MaxBackoff: 400 * time.Millisecond}
}

// Retry runs operation until it succeeds, fails with a non-retryable error, runs out
// of attempts, or ctx ends. Backoff doubles after every attempt up to MaxBackoff.
func Retry(ctx context.Context, policy RetryPolicy, operation func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	backoff := policy.InitialBackoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = operation(ctx)
		if err == nil || !retryable(err) || attempt == attempts {
			return err
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return err
}
