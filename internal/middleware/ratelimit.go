package middleware

import (
	"net/http"
	"sync"
	"time"

	"sampark/internal/config"
	appmetrics "sampark/internal/metrics"

	"github.com/gin-gonic/gin"
)

// tokenBucket refills at ratePerSec up to burst tokens.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64
	burst      float64
}

func newBucket(rpm, burst int, now time.Time) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: now,
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// idle reports whether the bucket has been full for at least ttl.
func (b *tokenBucket) idle(now time.Time, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill) > ttl
}

// ipLimiter keeps one bucket per client IP and sweeps idle ones.
type ipLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	rpm       int
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

const bucketIdleTTL = 10 * time.Minute

func (l *ipLimiter) bucket(key string) (*tokenBucket, time.Time) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > bucketIdleTTL {
		for k, b := range l.buckets {
			if b.idle(now, bucketIdleTTL) {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.rpm, l.burst, now)
		l.buckets[key] = b
	}
	return b, now
}

// RateLimitMiddleware 按客户端 IP 做令牌桶限流，由 cfg.Security.RateLimiting 控制；未启用时直接放行
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled || rl.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := &ipLimiter{
		buckets: make(map[string]*tokenBucket),
		rpm:     rl.RequestsPerMinute,
		burst:   rl.Burst,
		now:     time.Now,
	}
	return limiter.handle
}

func (l *ipLimiter) handle(c *gin.Context) {
	key := c.ClientIP()
	if key == "" {
		key = "unknown"
	}
	b, now := l.bucket(key)
	if !b.allow(now) {
		prefix := c.FullPath()
		if prefix == "" {
			prefix = "global"
		}
		appmetrics.IncRateLimitDrop(prefix)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "Too Many Requests",
			"message": "rate limit exceeded",
		})
		return
	}
	c.Next()
}
