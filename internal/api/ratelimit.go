package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipRateLimiter is a per-client-IP limiter, grounded on a ratelimit.go-style
// per-key limiter map but built on golang.org/x/time/rate's token bucket,
// which approximates the windowMs/max sliding window (max tokens
// refilling continuously over windowMs rather than resetting in discrete
// buckets — a closer-to-fair approximation of the same budget).
type ipRateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

func newIPRateLimiter(cfg RateLimitConfig) *ipRateLimiter {
	return &ipRateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (l *ipRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSeen[ip] = time.Now()
	if lim, ok := l.limiters[ip]; ok {
		return lim
	}

	window := time.Duration(l.cfg.WindowMs) * time.Millisecond
	if window <= 0 {
		window = time.Minute
	}
	ratePerSec := float64(l.cfg.Max) / window.Seconds()
	lim := rate.NewLimiter(rate.Limit(ratePerSec), l.cfg.Max)
	l.limiters[ip] = lim
	return lim
}

// allow reports whether a request from ip may proceed.
func (l *ipRateLimiter) allow(ip string) bool {
	return l.limiterFor(ip).Allow()
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RateLimit.Max <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !s.limiter.allow(ip) {
			retryAfter := s.cfg.RateLimit.WindowMs / 1000
			if retryAfter <= 0 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
