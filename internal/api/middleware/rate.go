package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL drops a client's limiter after it has been quiet this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiters tracks one token bucket per client IP.
type limiters struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*client
	swept   time.Time
	now     func() time.Time
}

func newLimiters(cfg RateLimitConfig) *limiters {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &limiters{
		cfg:     cfg,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

func (l *limiters) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.swept) > l.cfg.IdleTTL {
		for key, c := range l.clients {
			if now.Sub(c.lastSeen) > l.cfg.IdleTTL {
				delete(l.clients, key)
			}
		}
		l.swept = now
	}
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

func (l *limiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func tooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"error":   "rate limit exceeded",
	})
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	l := newLimiters(cfg)

	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			tooManyRequests(c)
			return
		}
		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			tooManyRequests(c)
			return
		}
		c.Next()
	}
}
