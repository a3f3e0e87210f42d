package controller

import (
	"net/http"

	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
)

type ProofResponse struct {
	Code        string         `json:"code,omitempty"`
	Address     string         `json:"address,omitempty"`
	RedirectURI string         `json:"redirect_uri,omitempty"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Profile     *model.Profile `json:"profile"`
}

func errorBody(oerr *service.OAuthError) gin.H {
	body := gin.H{
		"error":             oerr.Code,
		"error_description": oerr.Description,
	}
	if redirectURL := oerr.RedirectURL(); redirectURL != "" {
		body["redirect_uri"] = redirectURL
	}
	return body
}

func logInternal(c *gin.Context, oerr *service.OAuthError) {
	if oerr.Code == service.ErrCodeServerError {
		tlog.App.Error().Err(oerr.Err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
}

// respondError writes a protocol error as JSON. Internal causes are logged, never returned.
func respondError(c *gin.Context, err error) {
	oerr := service.AsOAuthError(err)
	logInternal(c, oerr)
	c.JSON(oerr.Status, errorBody(oerr))
}

// redirectError sends browser flows back to the client when the error carries
// a validated redirect URI and falls back to JSON otherwise.
func redirectError(c *gin.Context, err error) {
	oerr := service.AsOAuthError(err)
	logInternal(c, oerr)

	if redirectURL := oerr.RedirectURL(); redirectURL != "" {
		c.Redirect(http.StatusFound, redirectURL)
		return
	}

	c.JSON(oerr.Status, errorBody(oerr))
}

// finishProof turns a verified proof into either a code redirect, when the
// proof is bound to an authorization request, or a bare profile lookup.
func finishProof(c *gin.Context, authorize *service.AuthorizeService, req service.CompleteRequest) (*ProofResponse, error) {
	proof := req.Proof

	if req.RequestToken == "" {
		if req.RedirectURI != "" || req.State != "" {
			return nil, service.NewOAuthError(service.ErrCodeInvalidRequest, "redirect_uri and state require an authorization request")
		}

		profile, err := authorize.ResolveProof(c.Request.Context(), proof)
		if err != nil {
			tlog.AuditLoginFailure(c, proof.AuthMethod, proof.Identifier, service.AsOAuthError(err).Code)
			return nil, err
		}
		tlog.AuditLoginSuccess(c, proof.AuthMethod, proof.Identifier, profile.ProfileID)
		return &ProofResponse{Address: proof.WalletAddress, Profile: profile}, nil
	}

	completion, err := authorize.Complete(c.Request.Context(), req)
	if err != nil {
		tlog.AuditLoginFailure(c, proof.AuthMethod, proof.Identifier, service.AsOAuthError(err).Code)
		return nil, err
	}

	tlog.AuditLoginSuccess(c, proof.AuthMethod, proof.Identifier, completion.Profile.ProfileID)

	return &ProofResponse{
		Code:        completion.Code,
		Address:     proof.WalletAddress,
		RedirectURI: completion.RedirectURI,
		RedirectURL: completion.RedirectURL,
		Profile:     &completion.Profile,
	}, nil
}
