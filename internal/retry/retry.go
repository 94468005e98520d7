// Package retry retries node requests that failed for transient reasons.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
)

// Policy configures exponential backoff. MaxAttempts is the number of
// retries after the first attempt; zero disables retrying.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
	}
}

// Operation is one attempt.
type Operation func(ctx context.Context) error

// OnRetry is called before sleeping ahead of retry number attempt.
type OnRetry func(err error, attempt int, next time.Duration)

// Do runs op until it succeeds, fails terminally, or the policy is
// exhausted. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op Operation, onRetry OnRetry) error {
	if p.MaxAttempts <= 0 {
		return op(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	bo.MaxElapsedTime = p.MaxElapsedTime

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxAttempts)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		attempt++
		if onRetry != nil {
			onRetry(err, attempt, next)
		}
	})
}
