package llm

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls how provider calls are retried after transient
// failures. Delays grow exponentially from BaseDelay toward MaxDelay.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int
	// BaseDelay and MaxDelay bound the backoff window, in seconds.
	BaseDelay float64
	MaxDelay  float64
	// BackoffMultiplier scales the delay between consecutive attempts.
	BackoffMultiplier float64
	// Jitter randomizes each delay by +/- 50%.
	Jitter bool
	// OnRetry, when set, observes every retry before its delay elapses.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy is the policy used around provider calls unless the
// caller overrides it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay returns the backoff delay for the given zero-indexed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	seconds := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		seconds *= 0.5 + rand.Float64()
	}
	return time.Duration(seconds * float64(time.Second))
}

// Retry runs fn, retrying retryable errors per the policy. Non-retryable
// errors, context overflow and aborts included, return immediately. A
// RateLimitError carrying a Retry-After hint overrides the computed
// delay; a hint beyond MaxDelay fails the call instead of waiting it out.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter != nil {
			hinted := time.Duration(*rl.RetryAfter * float64(time.Second))
			if hinted > time.Duration(policy.MaxDelay*float64(time.Second)) {
				return zero, err
			}
			delay = hinted
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-time.After(delay):
		}

		if result, err = fn(ctx); err == nil {
			return result, nil
		}
	}

	return zero, err
}
