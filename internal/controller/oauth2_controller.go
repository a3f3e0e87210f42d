package controller

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/middleware"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
)

type OpenIDConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	AuthMethodsSupported              []string `json:"ethos_auth_methods_supported"`
}

type AuthorizationRequestResponse struct {
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`
	MinScore    *int   `json:"min_score"`
	ExpiresAt   int64  `json:"expires_at"`
}

type UserinfoResponse struct {
	Sub               string   `json:"sub"`
	Name              string   `json:"name,omitempty"`
	Picture           string   `json:"picture,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	EthosProfileID    int      `json:"ethos_profile_id"`
	EthosUsername     string   `json:"ethos_username,omitempty"`
	EthosScore        int      `json:"ethos_score"`
	EthosStatus       string   `json:"ethos_status,omitempty"`
	EthosAttestations []string `json:"ethos_attestations"`
	AuthMethod        string   `json:"auth_method"`
	WalletAddress     string   `json:"wallet_address,omitempty"`
}

type OAuth2ControllerConfig struct {
	AppURL      string
	AuthMethods []string
}

type OAuth2Controller struct {
	config    OAuth2ControllerConfig
	router    *gin.RouterGroup
	limiter   gin.HandlerFunc
	authorize *service.AuthorizeService
	tokens    *service.TokenService
	clients   *service.ClientService
	context   *middleware.ContextMiddleware
}

func NewOAuth2Controller(config OAuth2ControllerConfig, router *gin.RouterGroup, limiter gin.HandlerFunc, authorize *service.AuthorizeService, tokens *service.TokenService, clients *service.ClientService, context *middleware.ContextMiddleware) *OAuth2Controller {
	return &OAuth2Controller{
		config:    config,
		router:    router,
		limiter:   limiter,
		authorize: authorize,
		tokens:    tokens,
		clients:   clients,
		context:   context,
	}
}

func (controller *OAuth2Controller) SetupRoutes() {
	controller.router.GET("/.well-known/openid-configuration", controller.discoveryHandler)
	controller.router.GET("/authorize", controller.authorizeHandler)
	controller.router.GET("/authorize/request", controller.authorizationRequestHandler)
	controller.router.POST("/token", controller.limiter, controller.tokenHandler)
	controller.router.GET("/userinfo", controller.context.RequireAccessToken(), controller.userinfoHandler)
}

func (controller *OAuth2Controller) discoveryHandler(c *gin.Context) {
	baseURL := strings.TrimSuffix(controller.config.AppURL, "/")

	c.JSON(http.StatusOK, OpenIDConfiguration{
		Issuer:                            controller.tokens.GetIssuer(),
		AuthorizationEndpoint:             fmt.Sprintf("%s/authorize", baseURL),
		TokenEndpoint:                     fmt.Sprintf("%s/token", baseURL),
		UserinfoEndpoint:                  fmt.Sprintf("%s/userinfo", baseURL),
		ScopesSupported:                   []string{"openid", config.DefaultScope},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code"},
		SubjectTypesSupported:             []string{"public"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported:                   []string{"sub", "name", "picture", "preferred_username", "ethos_profile_id", "ethos_score", "ethos_status", "ethos_attestations", "auth_method", "wallet_address"},
		AuthMethodsSupported:              controller.config.AuthMethods,
	})
}

// authorizeHandler never redirects errors to the client since nothing about
// the request has been validated when it fails.
func (controller *OAuth2Controller) authorizeHandler(c *gin.Context) {
	var req service.AuthorizeRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Malformed authorization request"))
		return
	}

	_, connectURL, err := controller.authorize.Begin(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, connectURL)
}

func (controller *OAuth2Controller) authorizationRequestHandler(c *gin.Context) {
	var req config.ConnectQuery

	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Malformed request"))
		return
	}

	state, err := controller.authorize.Peek(c.Request.Context(), req.Request)
	if err != nil {
		respondError(c, err)
		return
	}

	clientName := state.ClientID
	if client, err := controller.clients.GetClient(c.Request.Context(), state.ClientID); err == nil {
		clientName = client.Name
	}

	c.JSON(http.StatusOK, AuthorizationRequestResponse{
		ClientID:    state.ClientID,
		ClientName:  clientName,
		RedirectURI: state.RedirectURI,
		Scope:       state.Scope,
		MinScore:    state.MinScore,
		ExpiresAt:   state.ExpiresAt,
	})
}

func (controller *OAuth2Controller) tokenHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")

	grantType := c.PostForm("grant_type")

	if grantType == "" {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Missing grant_type"))
		return
	}

	if grantType != "authorization_code" {
		respondError(c, service.NewOAuthError(service.ErrCodeUnsupportedGrantType, "Only the authorization_code grant type is supported"))
		return
	}

	clientID, clientSecret, basic := controller.getClientCredentials(c)

	if clientID == "" || clientSecret == "" {
		controller.tokenError(c, clientID, basic, service.NewOAuthError(service.ErrCodeInvalidClient, "Missing client credentials"))
		return
	}

	res, code, err := controller.tokens.RedeemCode(c.Request.Context(), service.TokenRequest{
		Code:         c.PostForm("code"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  c.PostForm("redirect_uri"),
	})
	if err != nil {
		controller.tokenError(c, clientID, basic, err)
		return
	}

	tlog.AuditTokenIssued(c, clientID, code.ResolvedIdentity.ProfileID, code.AuthMethod)

	c.JSON(http.StatusOK, res)
}

func (controller *OAuth2Controller) tokenError(c *gin.Context, clientID string, basic bool, err error) {
	oerr := service.AsOAuthError(err)
	tlog.AuditTokenDenied(c, clientID, oerr.Code)

	if oerr.Code == service.ErrCodeInvalidClient && basic {
		c.Header("WWW-Authenticate", `Basic realm="ethos-connect"`)
	}

	respondError(c, oerr)
}

func (controller *OAuth2Controller) userinfoHandler(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidToken, "Missing access token"))
		return
	}

	c.JSON(http.StatusOK, UserinfoResponse{
		Sub:               claims.Subject,
		Name:              claims.Name,
		Picture:           claims.Picture,
		PreferredUsername: claims.EthosUsername,
		EthosProfileID:    claims.EthosProfileID,
		EthosUsername:     claims.EthosUsername,
		EthosScore:        claims.EthosScore,
		EthosStatus:       claims.EthosStatus,
		EthosAttestations: claims.EthosAttestations,
		AuthMethod:        claims.AuthMethod,
		WalletAddress:     claims.WalletAddress,
	})
}

// getClientCredentials prefers HTTP Basic and falls back to form parameters.
// Credentials in the query string are never accepted.
func (controller *OAuth2Controller) getClientCredentials(c *gin.Context) (string, string, bool) {
	authHeader := c.GetHeader("Authorization")
	if encoded, found := strings.CutPrefix(authHeader, "Basic "); found {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			if id, secret, found := strings.Cut(string(decoded), ":"); found {
				id, idErr := url.QueryUnescape(id)
				secret, secretErr := url.QueryUnescape(secret)
				if idErr == nil && secretErr == nil {
					return id, secret, true
				}
			}
		}
		return "", "", true
	}

	return c.PostForm("client_id"), c.PostForm("client_secret"), false
}
