package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy produces a fresh retry schedule for one operation.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// LinearPolicy waits BaseDelay × n before the n-th retry and gives up after
// MaxAttempts total attempts.
type LinearPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseDelay is multiplied by the retry number to get each delay.
	// Default: 2 seconds
	BaseDelay time.Duration
}

// DefaultLinearPolicy returns the fetch engine's default schedule:
// three attempts, 2s then 4s apart.
func DefaultLinearPolicy() LinearPolicy {
	return LinearPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// NewBackOff implements Policy.
func (p LinearPolicy) NewBackOff() backoff.BackOff {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return &linearBackOff{base: p.BaseDelay, maxAttempts: p.MaxAttempts}
}

// Delay returns the wait before retry number n (1-based).
func (p LinearPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(n)
}

type linearBackOff struct {
	base        time.Duration
	maxAttempts int
	retries     int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.retries >= b.maxAttempts-1 {
		return backoff.Stop
	}
	b.retries++
	return b.base * time.Duration(b.retries)
}

func (b *linearBackOff) Reset() {
	b.retries = 0
}

// ExponentialPolicy is a capped exponential schedule with jitter.
type ExponentialPolicy struct {
	// InitialInterval is the first retry delay.
	// Default: 500ms
	InitialInterval time.Duration

	// MaxInterval caps a single delay.
	// Default: 10 seconds
	MaxInterval time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 5
	MaxRetries uint64
}

// NewBackOff implements Policy.
func (p ExponentialPolicy) NewBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	if bo.InitialInterval == 0 {
		bo.InitialInterval = 500 * time.Millisecond
	}
	bo.MaxInterval = p.MaxInterval
	if bo.MaxInterval == 0 {
		bo.MaxInterval = 10 * time.Second
	}
	bo.MaxElapsedTime = 0 // bounded by MaxRetries

	retries := p.MaxRetries
	if retries == 0 {
		retries = 5
	}
	return backoff.WithMaxRetries(bo, retries)
}

// Retry runs op under policy until it succeeds, returns a permanent error,
// exhausts the schedule, or ctx is done. notify may be nil.
func Retry(ctx context.Context, policy Policy, op func() error, notify backoff.Notify) error {
	return backoff.RetryNotify(op, backoff.WithContext(policy.NewBackOff(), ctx), notify)
}
