package connection

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// reconnector holds the reconnect backoff policy and the rate-limit cooldown
// window. Only the coordinator goroutine touches it.
type reconnector struct {
	policy   *backoff.ExponentialBackOff
	cooldown time.Duration

	attempts      int
	cooldownUntil time.Time
}

func newReconnector(cfg ManagerConfig, clk clock.Clock) *reconnector {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.ReconnectMaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clk,
	}
	policy.Reset()

	return &reconnector{
		policy:   policy,
		cooldown: cfg.RateLimitCooldown,
	}
}

// next returns the delay before the next reconnect attempt:
// min(2^attempts * base, max).
func (r *reconnector) next() time.Duration {
	r.attempts++
	return r.policy.NextBackOff()
}

// reset is called on every successful connect.
func (r *reconnector) reset() {
	r.attempts = 0
	r.policy.Reset()
}

// startCooldown opens the cooldown window at now and returns its end.
func (r *reconnector) startCooldown(now time.Time) time.Time {
	r.cooldownUntil = now.Add(r.cooldown)
	return r.cooldownUntil
}

func (r *reconnector) endCooldown() {
	r.cooldownUntil = time.Time{}
}
