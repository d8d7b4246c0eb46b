// Package retry runs operations under an exponential backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lawnchairsociety/questengine/internal/config"
	"github.com/lawnchairsociety/questengine/internal/logger"
)

// Policy bounds how an operation is retried.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64 // Randomization factor in [0, 1)

	// MaxTries caps attempts including the first; 0 means unlimited.
	MaxTries uint
	// MaxElapsed caps total time spent; 0 means unlimited.
	MaxElapsed time.Duration
}

// DefaultPolicy retries five times starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		MaxTries:        5,
		MaxElapsed:      30 * time.Second,
	}
}

// FromConfig builds a policy from the retry config section.
func FromConfig(c config.RetryConfig) Policy {
	p := DefaultPolicy()
	if c.InitialInterval > 0 {
		p.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		p.MaxInterval = c.MaxInterval
	}
	if c.Multiplier >= 1 {
		p.Multiplier = c.Multiplier
	}
	p.MaxTries = c.MaxTries
	p.MaxElapsed = c.MaxElapsed
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	return b
}

// Do calls op until it succeeds, returns a Permanent error, the policy is
// exhausted or ctx ends. The last error is returned.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op(ctx)
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warning("Retrying operation", "op", name, "attempt", attempt, "next", next, "error", err)
		}),
	)
}

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
