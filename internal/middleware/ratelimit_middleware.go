package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RateLimitMiddlewareConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies a token bucket per client IP.
type RateLimitMiddleware struct {
	config   RateLimitMiddlewareConfig
	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimitMiddleware(config RateLimitMiddlewareConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		config:   config,
		visitors: make(map[string]*visitor),
	}
}

func (m *RateLimitMiddleware) Init() error {
	if m.config.Enabled && (m.config.RequestsPerMinute <= 0 || m.config.Burst <= 0) {
		tlog.App.Warn().Msg("Rate limit values must be positive, disabling rate limiting")
		m.config.Enabled = false
	}
	return nil
}

func (m *RateLimitMiddleware) limiter(ip string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exists := m.visitors[ip]
	if !exists {
		limit := rate.Limit(float64(m.config.RequestsPerMinute) / 60)
		v = &visitor{limiter: rate.NewLimiter(limit, m.config.Burst)}
		m.visitors[ip] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup forgets visitors idle for longer than maxIdle.
func (m *RateLimitMiddleware) Cleanup(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for ip, v := range m.visitors {
		if time.Since(v.lastSeen) > maxIdle {
			delete(m.visitors, ip)
			removed++
		}
	}
	return removed
}

func (m *RateLimitMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.config.Enabled {
			c.Next()
			return
		}

		if !m.limiter(c.ClientIP()).Allow() {
			tlog.App.Warn().Str("ip", c.ClientIP()).Str("path", c.Request.URL.Path).Msg("Rate limit exceeded")
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             service.ErrCodeRateLimited,
				"error_description": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
