package service

import (
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter manages IP-based rate limiting for the auth endpoints.
// Each IP gets a token bucket that is dropped after idleTTL without use.
type IPRateLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
}

// NewIPRateLimiter allows perMinute requests per IP with the given burst.
// A perMinute of zero disables limiting.
func NewIPRateLimiter(perMinute float64, burst int, idleTTL time.Duration) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: cache.New(idleTTL, idleTTL*2),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		idleTTL:  idleTTL,
	}
}

// Allow checks if the IP is within rate limit
func (r *IPRateLimiter) Allow(ip string) bool {
	if r.limit <= 0 {
		return true
	}

	var limiter *rate.Limiter
	if v, found := r.limiters.Get(ip); found {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(r.limit, r.burst)
		// Add keeps the first limiter if two requests race here
		if err := r.limiters.Add(ip, limiter, r.idleTTL); err != nil {
			if v, found := r.limiters.Get(ip); found {
				limiter = v.(*rate.Limiter)
			}
		}
	}

	// Sliding expiry: an active IP keeps its bucket
	r.limiters.Set(ip, limiter, r.idleTTL)
	return limiter.Allow()
}
