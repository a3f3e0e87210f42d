package controller

import (
	"net/http"

	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
)

type SocialRequest struct {
	Provider string `uri:"provider" binding:"required"`
}

type SocialControllerConfig struct {
	CSRFCookieName string
	SecureCookie   bool
	SessionExpiry  int
}

type SocialController struct {
	config    SocialControllerConfig
	router    *gin.RouterGroup
	broker    *service.SocialBrokerService
	authorize *service.AuthorizeService
}

func NewSocialController(config SocialControllerConfig, router *gin.RouterGroup, broker *service.SocialBrokerService, authorize *service.AuthorizeService) *SocialController {
	return &SocialController{
		config:    config,
		router:    router,
		broker:    broker,
		authorize: authorize,
	}
}

func (controller *SocialController) SetupRoutes() {
	authGroup := controller.router.Group("/auth")
	authGroup.GET("/:provider", controller.startHandler)
	authGroup.GET("/:provider/callback", controller.callbackHandler)
	authGroup.POST("/:provider/callback", controller.callbackHandler)
}

func (controller *SocialController) startHandler(c *gin.Context) {
	var req SocialRequest

	if err := c.ShouldBindUri(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Missing provider"))
		return
	}

	requestToken := c.Query("request")

	if requestToken != "" {
		if _, err := controller.authorize.Peek(c.Request.Context(), requestToken); err != nil {
			respondError(c, err)
			return
		}
	}

	start, err := controller.broker.Start(c.Request.Context(), req.Provider, requestToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(controller.config.CSRFCookieName, start.State, controller.config.SessionExpiry, "/auth", "", controller.config.SecureCookie, true)

	c.Redirect(http.StatusFound, start.AuthURL)
}

func (controller *SocialController) callbackHandler(c *gin.Context) {
	var req SocialRequest

	if err := c.ShouldBindUri(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Missing provider"))
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Malformed callback"))
		return
	}

	params := c.Request.Form
	csrfCookie, err := c.Cookie(controller.config.CSRFCookieName)

	c.SetCookie(controller.config.CSRFCookieName, "", -1, "/auth", "", controller.config.SecureCookie, true)

	if err != nil || csrfCookie == "" || csrfCookie != params.Get("state") {
		tlog.App.Warn().Err(err).Str("provider", req.Provider).Msg("CSRF state mismatch or cookie missing")
		tlog.AuditLoginFailure(c, req.Provider, "", service.ErrCodeInvalidState)
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidState, "State does not match this browser session"))
		return
	}

	result, err := controller.broker.Finish(c.Request.Context(), req.Provider, params)
	if err != nil {
		tlog.AuditLoginFailure(c, req.Provider, "", service.AsOAuthError(err).Code)
		respondError(c, err)
		return
	}

	res, err := finishProof(c, controller.authorize, service.CompleteRequest{
		RequestToken: result.RequestToken,
		Proof: service.Proof{
			AuthMethod: result.Provider,
			LookupType: result.LookupType,
			Identifier: result.Identity.ID,
		},
	})
	if err != nil {
		redirectError(c, err)
		return
	}

	if res.RedirectURL != "" {
		c.Redirect(http.StatusFound, res.RedirectURL)
		return
	}

	c.JSON(http.StatusOK, res)
}
