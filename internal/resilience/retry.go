package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMaxRetriesExceeded wraps the last error once all retry attempts are used.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryPolicy holds configuration for retried operations.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration
}

// DefaultRetryPolicy returns sensible defaults for retried operations.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries == 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.InitialInterval == 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = d.MaxInterval
	}
	return p
}

// Retry runs fn through the breaker with exponential backoff between
// attempts. Breaker rejections and errors marked Permanent stop the loop
// immediately.
func Retry(ctx context.Context, b *Breaker, policy RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := RetryWithData(ctx, b, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithData is Retry for operations that return a value.
func RetryWithData[T any](ctx context.Context, b *Breaker, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = 0 // Unlimited, we control retries via WithMaxRetries

	withRetries := backoff.WithMaxRetries(bo, policy.MaxRetries)
	withContext := backoff.WithContext(withRetries, ctx)

	exhausted := true
	v, err := backoff.RetryWithData(func() (T, error) {
		v, err := Call(b, func() (T, error) {
			return fn(ctx)
		})
		if err == nil {
			return v, nil
		}
		if IsRejected(err) || ctx.Err() != nil {
			exhausted = false
			return v, backoff.Permanent(err)
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			exhausted = false
		}
		return v, err
	}, withContext)

	if err != nil && exhausted && ctx.Err() == nil {
		return v, errors.Join(ErrMaxRetriesExceeded, err)
	}
	return v, err
}

// Permanent marks err so Retry gives up without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
