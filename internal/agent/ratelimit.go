package agent

import (
	"context"

	"golang.org/x/time/rate"
)

const (
	defaultRateBurst     = 5
	defaultRatePerMinute = 30.0
)

// RateLimiter paces LLM API calls with a token bucket.
type RateLimiter struct {
	lim *rate.Limiter
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = defaultRateBurst
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), maxBurst)}
}

// Wait blocks until a call is allowed or ctx is done. A nil limiter never
// blocks.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.lim.Wait(ctx)
}
