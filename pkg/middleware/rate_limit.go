package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	TTL               time.Duration // Idle limiters are dropped after this long
}

type limitKey struct {
	subject string
	action  string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per (subject, action) pair
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[limitKey]*visitor
	cfg      RateLimiterConfig
	now      func() time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(cfg.RequestsPerSecond*2), 1)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3 * time.Minute
	}

	return &RateLimiter{
		visitors: map[limitKey]*visitor{},
		cfg:      cfg,
		now:      time.Now,
	}
}

// Allow takes one token from the bucket of subject doing action
func (l *RateLimiter) Allow(subject, action string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := limitKey{subject, action}
	now := l.now()

	v, ok := l.visitors[k]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.visitors[k] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle for longer than the TTL and returns how many went
func (l *RateLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, v := range l.visitors {
		if l.now().Sub(v.lastSeen) > l.cfg.TTL {
			delete(l.visitors, k)
			removed++
		}
	}

	return removed
}

// Run cleans up idle limiters every interval until ctx ends
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	zap.L().Debug("Rate limiter cleanup attached", zap.Duration("tick_every", interval))

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

// Middleware limits action per user, or per client IP before authentication
func (l *RateLimiter) Middleware(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString("userID")
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}

		if !l.Allow(subject, action) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "Too many requests",
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Next()
	}
}
