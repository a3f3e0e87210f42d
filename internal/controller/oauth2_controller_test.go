package controller_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/controller"
	"github.com/trust-ethos/ethos-connect/internal/middleware"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/service"

	"github.com/ethereum/go-ethereum/crypto"
	"gotest.tools/v3/assert"
)

func TestWalletAuthorizationFlow(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	key, err := crypto.GenerateKey()
	assert.NilError(t, err)

	address := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	app.lookup.add(config.LookupAddress, address, model.Profile{
		ProfileID:    42,
		DisplayName:  "Vitalik",
		Username:     "vitalik",
		Score:        1500,
		Status:       "ACTIVE",
		Attestations: []string{"x"},
	})

	// Authorize
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", testClientID)
	query.Set("redirect_uri", testRedirectURI)
	query.Set("scope", "openid profile")
	query.Set("state", "xyz")
	query.Set("min_score", "1000")

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/authorize?"+query.Encode(), nil)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	assert.NilError(t, err)
	assert.Equal(t, "connect.example.com", location.Host)
	assert.Equal(t, "/connect", location.Path)

	requestToken := location.Query().Get("request")
	assert.Assert(t, requestToken != "")

	// Peek
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/authorize/request?request="+requestToken, nil)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var peek controller.AuthorizationRequestResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &peek))
	assert.Equal(t, "Acme", peek.ClientName)
	assert.Equal(t, "openid profile", peek.Scope)
	assert.Equal(t, 1000, *peek.MinScore)

	// Nonce
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/nonce", nil)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var nonce controller.NonceResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &nonce))
	assert.Assert(t, nonce.Nonce != "")

	// Wallet proof
	signed := signSIWE(t, key, nonce.Nonce)
	signed.Request = requestToken
	signed.RedirectURI = testRedirectURI
	signed.State = "xyz"

	body, err := json.Marshal(signed)
	assert.NilError(t, err)

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/wallet/verify", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var proof controller.ProofResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &proof))
	assert.Assert(t, proof.Code != "")
	assert.Equal(t, address, proof.Address)
	assert.Equal(t, testRedirectURI, proof.RedirectURI)
	assert.Equal(t, 42, proof.Profile.ProfileID)

	redirect, err := url.Parse(proof.RedirectURL)
	assert.NilError(t, err)
	assert.Equal(t, proof.Code, redirect.Query().Get("code"))
	assert.Equal(t, "xyz", redirect.Query().Get("state"))

	// Replaying the same signed message fails since the nonce is gone
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/wallet/verify", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// Token
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", proof.Code)
	form.Set("redirect_uri", testRedirectURI)

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "no-store", recorder.Header().Get("Cache-Control"))

	var token service.TokenResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &token))
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, 3600, token.ExpiresIn)
	assert.Equal(t, "openid profile", token.Scope)

	// The code is single use
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Assert(t, strings.Contains(recorder.Body.String(), service.ErrCodeInvalidGrant))

	// Userinfo
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var userinfo controller.UserinfoResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &userinfo))
	assert.Equal(t, "42", userinfo.Sub)
	assert.Equal(t, 42, userinfo.EthosProfileID)
	assert.Equal(t, 1500, userinfo.EthosScore)
	assert.Equal(t, config.AuthMethodWallet, userinfo.AuthMethod)
	assert.Equal(t, address, userinfo.WalletAddress)
}

func TestWalletVerifyRejectsMismatchedBinding(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	type testCase struct {
		description string
		bound       bool
		redirectURI string
		state       string
		code        string
	}

	tests := []testCase{
		{
			description: "Redirect URI differs from the request",
			bound:       true,
			redirectURI: "https://evil.example.com/callback",
			state:       "xyz",
			code:        service.ErrCodeInvalidGrant,
		},
		{
			description: "State differs from the request",
			bound:       true,
			redirectURI: testRedirectURI,
			state:       "forged",
			code:        service.ErrCodeInvalidGrant,
		},
		{
			description: "Binding without a request",
			redirectURI: testRedirectURI,
			state:       "xyz",
			code:        service.ErrCodeInvalidRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			key, err := crypto.GenerateKey()
			assert.NilError(t, err)

			recorder := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/nonce", nil)
			app.router.ServeHTTP(recorder, req)
			assert.Equal(t, http.StatusOK, recorder.Code)

			var nonce controller.NonceResponse
			assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &nonce))

			signed := signSIWE(t, key, nonce.Nonce)
			signed.RedirectURI = test.redirectURI
			signed.State = test.state

			requestToken := ""
			if test.bound {
				requestToken = app.begin(t, "")
				signed.Request = requestToken
			}

			body, err := json.Marshal(signed)
			assert.NilError(t, err)

			recorder = httptest.NewRecorder()
			req = httptest.NewRequest("POST", "/wallet/verify", strings.NewReader(string(body)))
			req.Header.Set("Content-Type", "application/json")
			app.router.ServeHTTP(recorder, req)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)

			var res map[string]string
			assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
			assert.Equal(t, test.code, res["error"])

			if test.bound {
				// The error goes back to the registered redirect, never the submitted one
				assert.Assert(t, strings.HasPrefix(res["redirect_uri"], testRedirectURI+"?"))

				recorder = httptest.NewRecorder()
				req = httptest.NewRequest("GET", "/authorize/request?request="+requestToken, nil)
				app.router.ServeHTTP(recorder, req)
				assert.Equal(t, http.StatusBadRequest, recorder.Code)
			}
		})
	}
}

func TestAuthorizeHandlerErrors(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	type testCase struct {
		description string
		query       url.Values
		status      int
		code        string
	}

	valid := func() url.Values {
		query := url.Values{}
		query.Set("response_type", "code")
		query.Set("client_id", testClientID)
		query.Set("redirect_uri", testRedirectURI)
		return query
	}

	tests := []testCase{
		{
			description: "Unsupported response type",
			query: func() url.Values {
				query := valid()
				query.Set("response_type", "token")
				return query
			}(),
			status: http.StatusBadRequest,
			code:   service.ErrCodeUnsupportedResponseType,
		},
		{
			description: "Unknown client",
			query: func() url.Values {
				query := valid()
				query.Set("client_id", "unknown")
				return query
			}(),
			status: http.StatusUnauthorized,
			code:   service.ErrCodeInvalidClient,
		},
		{
			description: "Unregistered redirect URI",
			query: func() url.Values {
				query := valid()
				query.Set("redirect_uri", "https://evil.example.com/callback")
				return query
			}(),
			status: http.StatusBadRequest,
			code:   service.ErrCodeInvalidRequest,
		},
		{
			description: "Out of range min score",
			query: func() url.Values {
				query := valid()
				query.Set("min_score", "9000")
				return query
			}(),
			status: http.StatusBadRequest,
			code:   service.ErrCodeInvalidRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/authorize?"+test.query.Encode(), nil)
			app.router.ServeHTTP(recorder, req)

			assert.Equal(t, test.status, recorder.Code)
			assert.Equal(t, "", recorder.Header().Get("Location"))

			var res map[string]string
			assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
			assert.Equal(t, test.code, res["error"])
		})
	}
}

func TestTokenHandlerErrors(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	post := func(form url.Values, basic bool, secret string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if basic {
			req.SetBasicAuth(testClientID, secret)
		}
		app.router.ServeHTTP(recorder, req)
		return recorder
	}

	// Unsupported grant type
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	recorder := post(form, true, testClientSecret)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Assert(t, strings.Contains(recorder.Body.String(), service.ErrCodeUnsupportedGrantType))

	// Wrong secret over basic auth
	form.Set("grant_type", "authorization_code")
	form.Set("code", "unknown")
	form.Set("redirect_uri", testRedirectURI)
	recorder = post(form, true, "wrong")

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, `Basic realm="ethos-connect"`, recorder.Header().Get("WWW-Authenticate"))

	// Missing credentials
	recorder = post(form, false, "")

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Assert(t, strings.Contains(recorder.Body.String(), service.ErrCodeInvalidClient))

	// Unknown code with form credentials
	form.Set("client_id", testClientID)
	form.Set("client_secret", testClientSecret)
	recorder = post(form, false, "")

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Assert(t, strings.Contains(recorder.Body.String(), service.ErrCodeInvalidGrant))
}

func TestUserinfoHandlerRequiresToken(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/userinfo", nil)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Assert(t, recorder.Header().Get("WWW-Authenticate") != "")

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/userinfo", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestDiscoveryHandler(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/.well-known/openid-configuration", nil)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var res controller.OpenIDConfiguration
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
	assert.Equal(t, testAppURL, res.Issuer)
	assert.Equal(t, testAppURL+"/token", res.TokenEndpoint)
	assert.DeepEqual(t, []string{"code"}, res.ResponseTypesSupported)
	assert.DeepEqual(t, []string{config.AuthMethodWallet, config.AuthMethodDiscord}, res.AuthMethodsSupported)
}
