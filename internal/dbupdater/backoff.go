// ABOUTME: Retry policy for failed signature refreshes: exponential delays with jitter
// ABOUTME: BackoffConfig computes delays; Backoff counts attempts within one refresh

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Retry policy defaults. A feed that is down usually stays down for minutes,
// so the first retry waits long enough to avoid hammering the origin.
const (
	DefaultMaxRetries     = 5
	DefaultInitialDelay   = 15 * time.Second
	DefaultMaxDelay       = 10 * time.Minute
	DefaultMultiplier     = 2.0
	DefaultJitterFraction = 0.2
)

// ErrRetriesExhausted is returned by Wait once every retry has been used.
var ErrRetriesExhausted = errors.New("retries exhausted")

// BackoffConfig is the retry policy loaded from [update.backoff].
// Zero fields fall back to the defaults, except JitterFraction where zero
// disables jitter.
type BackoffConfig struct {
	MaxRetries     int           `toml:"max_retries"`
	InitialDelay   time.Duration `toml:"initial_delay"`
	MaxDelay       time.Duration `toml:"max_delay"`
	Multiplier     float64       `toml:"multiplier"`
	JitterFraction float64       `toml:"jitter_fraction"`
}

// DefaultBackoffConfig returns the policy used when the config file sets none.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialDelay:   DefaultInitialDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		JitterFraction: DefaultJitterFraction,
	}
}

// Validate rejects policies that would shrink delays or produce negative waits.
func (c BackoffConfig) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %g", c.Multiplier))
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		errs = append(errs, fmt.Errorf("jitter_fraction must be within [0, 1], got %g", c.JitterFraction))
	}
	return errors.Join(errs...)
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

// Delay returns the wait before retry n (1-based), without jitter.
func (c BackoffConfig) Delay(n int) time.Duration {
	c = c.withDefaults()
	if n < 1 {
		n = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(n-1))
	if d >= float64(c.MaxDelay) || math.IsInf(d, 0) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Backoff tracks the retries of one refresh. It is not safe for concurrent
// use; the scheduler creates one per failing run.
type Backoff struct {
	policy   BackoffConfig
	attempts int
	random   func() float64
}

// NewBackoff starts a retry sequence under policy.
func NewBackoff(policy BackoffConfig) *Backoff {
	return &Backoff{policy: policy.withDefaults(), random: rand.Float64}
}

// NextDelay consumes one retry and returns its jittered delay. ok is false
// when the policy has no retries left.
func (b *Backoff) NextDelay() (delay time.Duration, ok bool) {
	if b.attempts >= b.policy.MaxRetries {
		return 0, false
	}
	b.attempts++

	delay = b.policy.Delay(b.attempts)
	if f := b.policy.JitterFraction; f > 0 {
		// Spread uniformly over delay*(1-f) .. delay*(1+f).
		delay = time.Duration(float64(delay) * (1 + f*(2*b.random()-1)))
	}
	return delay, true
}

// Wait sleeps for the next delay, or returns early with ctx's error.
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	delay, ok := b.NextDelay()
	if !ok {
		return 0, ErrRetriesExhausted
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return delay, nil
	case <-ctx.Done():
		return delay, ctx.Err()
	}
}

// Attempts is the number of retries consumed so far.
func (b *Backoff) Attempts() int { return b.attempts }

// Reset starts the sequence over.
func (b *Backoff) Reset() { b.attempts = 0 }
