package api

import "golang.org/x/time/rate"

// NewRateLimiter allows rps requests per second, with bursts of up to rps.
func NewRateLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		rps = 1
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}
