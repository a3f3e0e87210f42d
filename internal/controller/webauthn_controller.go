package controller

import (
	"net/http"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/middleware"
	"github.com/trust-ethos/ethos-connect/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthenticateOptionsRequest struct {
	Request string `json:"request"`
}

type RegisterVerifyResponse struct {
	Verified     bool   `json:"verified"`
	CredentialID string `json:"credentialId"`
}

type WebAuthnController struct {
	router    *gin.RouterGroup
	limiter   gin.HandlerFunc
	context   *middleware.ContextMiddleware
	passkeys  *service.PasskeyService
	authorize *service.AuthorizeService
}

func NewWebAuthnController(router *gin.RouterGroup, limiter gin.HandlerFunc, context *middleware.ContextMiddleware, passkeys *service.PasskeyService, authorize *service.AuthorizeService) *WebAuthnController {
	return &WebAuthnController{
		router:    router,
		limiter:   limiter,
		context:   context,
		passkeys:  passkeys,
		authorize: authorize,
	}
}

func (controller *WebAuthnController) SetupRoutes() {
	webauthnGroup := controller.router.Group("/webauthn")
	webauthnGroup.POST("/register/options", controller.context.RequireAccessToken(), controller.registerOptionsHandler)
	webauthnGroup.POST("/register/verify", controller.limiter, controller.registerVerifyHandler)
	webauthnGroup.POST("/authenticate/options", controller.authenticateOptionsHandler)
	webauthnGroup.POST("/authenticate/verify", controller.limiter, controller.authenticateVerifyHandler)
}

// Passkeys are registered against the profile of an already issued access token.
func (controller *WebAuthnController) registerOptionsHandler(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidToken, "Missing access token"))
		return
	}

	name := claims.EthosUsername
	if name == "" {
		name = claims.Name
	}
	if name == "" {
		name = claims.Subject
	}

	options, err := controller.passkeys.BeginRegistration(c.Request.Context(), claims.Subject, name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, options)
}

func (controller *WebAuthnController) registerVerifyHandler(c *gin.Context) {
	var req service.PasskeyVerifyRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "challengeId and response are required"))
		return
	}

	credential, err := controller.passkeys.FinishRegistration(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RegisterVerifyResponse{
		Verified:     true,
		CredentialID: service.EncodeCredentialID(credential.CredentialID),
	})
}

func (controller *WebAuthnController) authenticateOptionsHandler(c *gin.Context) {
	var req AuthenticateOptionsRequest

	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Malformed request"))
			return
		}
	}

	if req.Request != "" {
		if _, err := controller.authorize.Peek(c.Request.Context(), req.Request); err != nil {
			respondError(c, err)
			return
		}
	}

	options, err := controller.passkeys.BeginLogin(c.Request.Context(), req.Request)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, options)
}

func (controller *WebAuthnController) authenticateVerifyHandler(c *gin.Context) {
	var req service.PasskeyVerifyRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "challengeId and response are required"))
		return
	}

	login, err := controller.passkeys.FinishLogin(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := finishProof(c, controller.authorize, service.CompleteRequest{
		RequestToken: login.Request,
		Proof: service.Proof{
			AuthMethod: config.AuthMethodPasskey,
			LookupType: config.LookupProfileID,
			Identifier: login.UserID,
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
