package middleware

import (
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var (
	loggerSkipPathsPrefix = []string{
		"GET /api/health",
		"HEAD /api/health",
		"GET /auth/farcaster/status",
		"GET /favicon.ico",
	}
)

type ZerologMiddleware struct{}

func NewZerologMiddleware() *ZerologMiddleware {
	return &ZerologMiddleware{}
}

func (m *ZerologMiddleware) Init() error {
	return nil
}

func (m *ZerologMiddleware) logPath(path string) bool {
	for _, prefix := range loggerSkipPathsPrefix {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func (m *ZerologMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tStart := time.Now()

		c.Next()

		code := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path

		var evt *zerolog.Event

		// Polling and health checks are only interesting at debug level
		switch {
		case !m.logPath(method + " " + path):
			evt = tlog.HTTP.Debug()
		case code >= 500:
			evt = tlog.HTTP.Error()
		case code >= 400:
			evt = tlog.HTTP.Warn()
		default:
			evt = tlog.HTTP.Info()
		}

		evt.Str("method", method).
			Str("path", path).
			Str("clientIp", c.ClientIP()).
			Int("status", code).
			Dur("latency", time.Since(tStart)).
			Msg("Request")
	}
}
