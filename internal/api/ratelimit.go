package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client-IP token buckets. RPS 0 disables
// limiting; zero durations and burst take the defaults below.
type RateLimitConfig struct {
	RPS           int
	Burst         int           // default 2*RPS
	SweepInterval time.Duration // default 5m
	IdleTTL       time.Duration // default 10m
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Burst <= 0 {
		c.Burst = 2 * c.RPS
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	return c
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipRateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*clientBucket
}

func newIPRateLimiter(cfg RateLimitConfig) *ipRateLimiter {
	return &ipRateLimiter{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		buckets: make(map[string]*clientBucket),
	}
}

func (r *ipRateLimiter) allow(ip string) bool {
	r.mu.Lock()
	b, ok := r.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(r.cfg.RPS), r.cfg.Burst)}
		r.buckets[ip] = b
	}
	b.lastSeen = r.now()
	r.mu.Unlock()
	return b.limiter.Allow()
}

// sweep forgets clients idle for longer than IdleTTL and returns how many
// remain.
func (r *ipRateLimiter) sweep() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for ip, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, ip)
		}
	}
	return len(r.buckets)
}

func (r *ipRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// RateLimiter returns a Gin middleware that rate limits each client IP.
// Idle clients are swept every SweepInterval until ctx is done.
func RateLimiter(ctx context.Context, cfg RateLimitConfig) gin.HandlerFunc {
	rl := newIPRateLimiter(cfg)
	go rl.run(ctx)

	// one token refills within a second for any RPS >= 1
	const retryAfter = "1"
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
