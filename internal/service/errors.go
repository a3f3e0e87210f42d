package service

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/trust-ethos/ethos-connect/internal/config"

	"github.com/google/go-querystring/query"
)

// OAuth error codes
const (
	ErrCodeInvalidRequest          = "invalid_request"
	ErrCodeInvalidClient           = "invalid_client"
	ErrCodeUnsupportedResponseType = "unsupported_response_type"
	ErrCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrCodeInvalidGrant            = "invalid_grant"
	ErrCodeInvalidState            = "invalid_state"
	ErrCodeNoEthosProfile          = "no_ethos_profile"
	ErrCodeScoreTooLow             = "score_too_low"
	ErrCodeInvalidAuth             = "invalid_auth"
	ErrCodeAuthExpired             = "auth_expired"
	ErrCodeServerError             = "server_error"
	ErrCodeInvalidToken            = "invalid_token"
	ErrCodeRateLimited             = "rate_limited"
)

var errorStatus = map[string]int{
	ErrCodeInvalidRequest:          http.StatusBadRequest,
	ErrCodeInvalidClient:           http.StatusUnauthorized,
	ErrCodeUnsupportedResponseType: http.StatusBadRequest,
	ErrCodeUnsupportedGrantType:    http.StatusBadRequest,
	ErrCodeInvalidGrant:            http.StatusBadRequest,
	ErrCodeInvalidState:            http.StatusBadRequest,
	ErrCodeNoEthosProfile:          http.StatusNotFound,
	ErrCodeScoreTooLow:             http.StatusForbidden,
	ErrCodeInvalidAuth:             http.StatusUnauthorized,
	ErrCodeAuthExpired:             http.StatusBadRequest,
	ErrCodeServerError:             http.StatusInternalServerError,
	ErrCodeInvalidToken:            http.StatusUnauthorized,
	ErrCodeRateLimited:             http.StatusTooManyRequests,
}

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrUpstream        = errors.New("upstream error")
	ErrInvalidToken    = errors.New("invalid token")
	ErrClientNotFound  = errors.New("client not found")
)

// OAuthError is a protocol error safe to show to the caller. Err holds the
// internal cause and is only ever logged.
type OAuthError struct {
	Code        string
	Description string
	Status      int
	RedirectURI string
	State       string
	Err         error
}

func NewOAuthError(code string, description string) *OAuthError {
	status, ok := errorStatus[code]
	if !ok {
		status = http.StatusBadRequest
	}
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

func NewServerError(err error) *OAuthError {
	oerr := NewOAuthError(ErrCodeServerError, "Internal server error")
	oerr.Err = err
	return oerr
}

func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

// WithRedirect returns a copy that is delivered on the client's redirect URI.
func (e *OAuthError) WithRedirect(redirectURI string, state string) *OAuthError {
	c := *e
	c.RedirectURI = redirectURI
	c.State = state
	return &c
}

// RedirectURL builds the error redirect, or returns an empty string when the
// error carries no validated redirect URI.
func (e *OAuthError) RedirectURL() string {
	if e.RedirectURI == "" {
		return ""
	}

	redirectURL, err := BuildRedirectURL(e.RedirectURI, config.RedirectQuery{
		Error:            e.Code,
		ErrorDescription: e.Description,
		State:            e.State,
	})
	if err != nil {
		return ""
	}

	return redirectURL
}

// AsOAuthError converts any error into an OAuthError, mapping unknown errors to server_error.
func AsOAuthError(err error) *OAuthError {
	var oerr *OAuthError
	if errors.As(err, &oerr) {
		return oerr
	}
	return NewServerError(err)
}

// BuildRedirectURL appends params to a redirect URI, keeping its existing query.
func BuildRedirectURL(redirectURI string, params config.RedirectQuery) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect uri: %w", err)
	}

	values, err := query.Values(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode redirect query: %w", err)
	}

	q := u.Query()
	for key := range values {
		q.Set(key, values.Get(key))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
