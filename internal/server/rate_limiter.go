package server

import "time"

// rateLimiter throttles the inbound messages of one WebSocket session. It
// tracks the time at which the session's budget is fully spent: each
// message pushes that point one emission interval ahead, and a message is
// refused while it lies more than the burst window in the future. Only the
// session's processing goroutine calls allow.
type rateLimiter struct {
	emission  time.Duration
	tolerance time.Duration
	spentAt   time.Time
	now       func() time.Time
}

// newRateLimiter admits cfg.Burst messages at once and refills the whole
// burst over cfg.RefillInterval. Unset values mean one message per second.
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst, interval := cfg.Burst, cfg.RefillInterval
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	emission := interval / time.Duration(burst)
	return &rateLimiter{
		emission:  emission,
		tolerance: interval - emission,
		now:       time.Now,
	}
}

func (rl *rateLimiter) allow() bool {
	now := rl.now()
	if rl.spentAt.Before(now) {
		rl.spentAt = now
	}
	if rl.spentAt.Sub(now) > rl.tolerance {
		return false
	}
	rl.spentAt = rl.spentAt.Add(rl.emission)
	return true
}
