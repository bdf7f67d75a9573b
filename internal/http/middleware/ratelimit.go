package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc derives the rate-limit key for a request. Keys partition the
// token buckets, so two requests with the same key share a budget.
type keyFunc func(c *gin.Context) string

// KeyByUserOrIP keys authenticated traffic by the caller's user ID and
// everything else by client IP. Checkout and page writes carry identity,
// so one abusive user cannot starve others behind the same NAT.
func KeyByUserOrIP(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return "user:" + s
		}
	}
	return "ip:" + c.ClientIP()
}

// bucket pairs a token-bucket limiter with its last activity time so
// idle entries can be swept.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per key. It exists to cap how fast a
// single caller can mint payment intents or hammer the poll endpoint;
// provider webhook deliveries are exempted via the bypass flag set by
// the router.
type RateLimiter struct {
	rps   float64
	burst int
	keyFn keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	sweepN  int
}

// NewRateLimiter builds a limiter allowing rps sustained requests with
// the given burst per key. A non-positive burst is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rps,
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
	}
}

// bucketFor returns the bucket for key, creating it on first sight.
// Every 5000 lookups it sweeps entries idle longer than ttl, which
// bounds memory without a background goroutine.
func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepN++
	if rl.sweepN >= 5000 {
		rl.sweepN = 0
		cutoff := time.Now().Add(-rl.ttl)
		for k, b := range rl.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(rl.buckets, k)
			}
		}
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b
}

// MarkRateBypass exempts the current request from rate limiting. The
// router applies it to provider webhook deliveries, where a 429 would
// count as a failed delivery and trigger another redelivery.
func MarkRateBypass(c *gin.Context) {
	c.Set(ctxKeyRateBypass, true)
}

// IsRateBypass reports whether an earlier middleware marked this request
// as exempt from rate limiting. Replayed checkout requests get the flag
// so an idempotent retry is never throttled into a different answer.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Handler enforces the per-key budget. Rejected requests get 429 with
// Retry-After so well-behaved clients back off instead of tightening
// their poll loop.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		b := rl.bucketFor(rl.keyFn(c))
		if !b.limiter.Allow() {
			requestID := c.Writer.Header().Get("X-Request-ID")
			if requestID == "" {
				requestID = c.GetHeader("X-Request-ID")
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"request_id": requestID,
				"code":       "rate_limited",
				"message":    "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
