package middleware

import (
	"net/http"
	"strings"

	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
)

const claimsContextKey = "claims"

type ContextMiddlewareConfig struct {
	AdminToken string
}

// ContextMiddleware authenticates bearer credentials and stores the result on the request context.
type ContextMiddleware struct {
	config ContextMiddlewareConfig
	tokens *service.TokenService
}

func NewContextMiddleware(config ContextMiddlewareConfig, tokens *service.TokenService) *ContextMiddleware {
	return &ContextMiddleware{
		config: config,
		tokens: tokens,
	}
}

func (m *ContextMiddleware) Init() error {
	return nil
}

// RequireAccessToken rejects requests without a valid access token.
func (m *ContextMiddleware) RequireAccessToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken, ok := BearerToken(c)

		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="ethos-connect"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             service.ErrCodeInvalidToken,
				"error_description": "Missing access token",
			})
			return
		}

		claims, err := m.tokens.VerifyAccessToken(accessToken, "")
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="ethos-connect", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             service.ErrCodeInvalidToken,
				"error_description": "Invalid or expired access token",
			})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireAdmin guards the client admin API. The API is hidden when no admin token is configured.
func (m *ContextMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.config.AdminToken == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":             service.ErrCodeInvalidRequest,
				"error_description": "Not found",
			})
			return
		}

		token, ok := BearerToken(c)

		if !ok || !utils.SecureCompare(token, m.config.AdminToken) {
			tlog.App.Warn().Str("ip", c.ClientIP()).Msg("Rejected admin API request")
			c.Header("WWW-Authenticate", `Bearer realm="ethos-connect-admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             service.ErrCodeInvalidToken,
				"error_description": "Invalid admin token",
			})
			return
		}

		c.Next()
	}
}

func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")

	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

func GetClaims(c *gin.Context) (*service.AccessClaims, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*service.AccessClaims)
	return claims, ok
}
