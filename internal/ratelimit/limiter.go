// Package ratelimit gates outgoing RPC requests for providers that throttle
// eth_getLogs.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Strategy names accepted by New.
const (
	StrategyFixed       = "fixed"
	StrategyTokenBucket = "token_bucket"
)

// Limiter hands out permission to issue one request. The returned release
// function must be called once the request has completed.
type Limiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// New builds the limiter for the given strategy.
func New(strategy string, delay time.Duration) (Limiter, error) {
	switch strategy {
	case StrategyFixed, "":
		return NewFixedDelay(delay), nil
	case StrategyTokenBucket:
		return NewTokenBucket(delay), nil
	default:
		return nil, fmt.Errorf("unsupported rate limiter strategy: %s", strategy)
	}
}

// FixedDelay allows a single outstanding request and enforces delay between
// the completion of one request and the start of the next.
type FixedDelay struct {
	delay time.Duration
	slot  chan struct{}

	// last is only touched by the slot holder.
	last time.Time
}

func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{
		delay: delay,
		slot:  make(chan struct{}, 1),
	}
}

func (l *FixedDelay) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !l.last.IsZero() {
		if wait := time.Until(l.last.Add(l.delay)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				<-l.slot
				return nil, ctx.Err()
			}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.last = time.Now()
			<-l.slot
		})
	}, nil
}

// TokenBucket spaces request starts by delay without limiting how many
// requests are in flight.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(delay time.Duration) *TokenBucket {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &TokenBucket{limiter: rate.NewLimiter(limit, 1)}
}

func (l *TokenBucket) Acquire(ctx context.Context) (func(), error) {
	r := l.limiter.Reserve()
	if !r.OK() {
		return nil, fmt.Errorf("rate: cannot reserve token")
	}
	if delay := r.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.Cancel()
			return nil, ctx.Err()
		}
	}
	return func() {}, nil
}
