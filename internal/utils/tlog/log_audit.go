package tlog

import "github.com/gin-gonic/gin"

func AuditLoginSuccess(c *gin.Context, authMethod string, identifier string, profileID int) {
	Audit.Info().
		Str("event", "proof").
		Str("result", "success").
		Str("auth_method", authMethod).
		Str("identifier", identifier).
		Int("profile_id", profileID).
		Str("ip", c.ClientIP()).
		Send()
}

func AuditLoginFailure(c *gin.Context, authMethod string, identifier string, reason string) {
	Audit.Warn().
		Str("event", "proof").
		Str("result", "failure").
		Str("auth_method", authMethod).
		Str("identifier", identifier).
		Str("reason", reason).
		Str("ip", c.ClientIP()).
		Send()
}

func AuditTokenIssued(c *gin.Context, clientID string, profileID int, authMethod string) {
	Audit.Info().
		Str("event", "token").
		Str("result", "success").
		Str("client_id", clientID).
		Int("profile_id", profileID).
		Str("auth_method", authMethod).
		Str("ip", c.ClientIP()).
		Send()
}

func AuditTokenDenied(c *gin.Context, clientID string, reason string) {
	Audit.Warn().
		Str("event", "token").
		Str("result", "failure").
		Str("client_id", clientID).
		Str("reason", reason).
		Str("ip", c.ClientIP()).
		Send()
}

func AuditClientRegistered(c *gin.Context, clientID string, name string) {
	Audit.Info().
		Str("event", "client_registered").
		Str("client_id", clientID).
		Str("name", name).
		Str("ip", c.ClientIP()).
		Send()
}

func AuditClientDeleted(c *gin.Context, clientID string) {
	Audit.Info().
		Str("event", "client_deleted").
		Str("client_id", clientID).
		Str("ip", c.ClientIP()).
		Send()
}
