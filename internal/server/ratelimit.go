package server

import (
	"time"

	"golang.org/x/time/rate"
)

// Rate limiting for incoming WebSocket messages.
const (
	RateLimitMessages = 20
	RateLimitWindow   = 10 * time.Second
)

// newRateLimiter returns a token bucket holding messages tokens that refills
// one token every window/messages. A non-positive messages disables limiting.
func newRateLimiter(messages int, window time.Duration) *rate.Limiter {
	if messages <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(messages)), messages)
}
