package service_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/service"

	"gotest.tools/v3/assert"
)

var walletProof = service.Proof{
	AuthMethod:    config.AuthMethodWallet,
	LookupType:    config.LookupAddress,
	Identifier:    "0xabc0000000000000000000000000000000000001",
	WalletAddress: "0xabc0000000000000000000000000000000000001",
}

func TestAuthorizeBegin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	valid := service.AuthorizeRequest{
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		ResponseType: "code",
		State:        "xyz",
	}

	type testCase struct {
		description string
		mutate      func(req *service.AuthorizeRequest)
		code        string
	}

	tests := []testCase{
		{
			description: "Missing response type",
			mutate:      func(req *service.AuthorizeRequest) { req.ResponseType = "" },
			code:        service.ErrCodeInvalidRequest,
		},
		{
			description: "Token response type",
			mutate:      func(req *service.AuthorizeRequest) { req.ResponseType = "token" },
			code:        service.ErrCodeUnsupportedResponseType,
		},
		{
			description: "Missing redirect URI",
			mutate:      func(req *service.AuthorizeRequest) { req.RedirectURI = "" },
			code:        service.ErrCodeInvalidRequest,
		},
		{
			description: "Unknown client",
			mutate:      func(req *service.AuthorizeRequest) { req.ClientID = "nope" },
			code:        service.ErrCodeInvalidClient,
		},
		{
			description: "Unregistered redirect URI",
			mutate:      func(req *service.AuthorizeRequest) { req.RedirectURI = "https://evil.com/callback" },
			code:        service.ErrCodeInvalidRequest,
		},
		{
			description: "Unsupported scope",
			mutate:      func(req *service.AuthorizeRequest) { req.Scope = "profile email" },
			code:        service.ErrCodeInvalidRequest,
		},
		{
			description: "Min score above range",
			mutate:      func(req *service.AuthorizeRequest) { req.MinScore = "2801" },
			code:        service.ErrCodeInvalidRequest,
		},
		{
			description: "Min score not a number",
			mutate:      func(req *service.AuthorizeRequest) { req.MinScore = "high" },
			code:        service.ErrCodeInvalidRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			req := valid
			test.mutate(&req)
			_, _, err := env.authorize.Begin(ctx, req)
			assertOAuthError(t, err, test.code)
		})
	}

	keys, err := env.store.Keys(ctx, "authreq:*")
	assert.NilError(t, err)
	assert.Equal(t, 0, len(keys))

	t.Run("Valid request is persisted", func(t *testing.T) {
		req := valid
		req.RedirectURI = "https://pr-12.preview.acme.com/callback"
		req.MinScore = "1200"

		token, connectURL, err := env.authorize.Begin(ctx, req)
		assert.NilError(t, err)
		assert.Assert(t, token != "")
		assert.Assert(t, strings.HasPrefix(connectURL, "https://connect.example.com/connect?request="))

		state, err := env.authorize.Peek(ctx, token)
		assert.NilError(t, err)
		assert.Equal(t, testClientID, state.ClientID)
		assert.Equal(t, req.RedirectURI, state.RedirectURI)
		assert.Equal(t, "profile", state.Scope)
		assert.Equal(t, "xyz", state.OriginalState)
		assert.Equal(t, 1200, *state.MinScore)
	})
}

func TestAuthorizeComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.lookup.add(config.LookupAddress, walletProof.Identifier, model.Profile{
		ProfileID:    42,
		DisplayName:  "Alice",
		Score:        1500,
		Attestations: []string{"x.com/alice"},
	})

	token := env.begin(t, "")

	completion, err := env.authorize.Complete(ctx, service.CompleteRequest{
		RequestToken: token,
		Proof:        walletProof,
	})
	assert.NilError(t, err)
	assert.Equal(t, 42, completion.Profile.ProfileID)

	redirect, err := url.Parse(completion.RedirectURL)
	assert.NilError(t, err)
	assert.Equal(t, "app.acme.com", redirect.Host)
	assert.Equal(t, completion.Code, redirect.Query().Get("code"))
	assert.Equal(t, "xyz", redirect.Query().Get("state"))

	exists, err := env.store.Exists(ctx, model.AuthorizationCodeKey(completion.Code))
	assert.NilError(t, err)
	assert.Assert(t, exists)

	_, err = env.authorize.Complete(ctx, service.CompleteRequest{
		RequestToken: token,
		Proof:        walletProof,
	})
	oerr := assertOAuthError(t, err, service.ErrCodeInvalidGrant)
	assert.Equal(t, "", oerr.RedirectURL())
}

func TestAuthorizeCompleteIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.lookup.add(config.LookupAddress, walletProof.Identifier, model.Profile{ProfileID: 42, Score: 1500})

	token := env.begin(t, "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.authorize.Complete(ctx, service.CompleteRequest{
				RequestToken: token,
				Proof:        walletProof,
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestAuthorizeScoreGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	low := service.Proof{AuthMethod: config.AuthMethodDiscord, LookupType: config.LookupDiscord, Identifier: "999"}
	exact := service.Proof{AuthMethod: config.AuthMethodDiscord, LookupType: config.LookupDiscord, Identifier: "1000"}

	env.lookup.add(config.LookupDiscord, "999", model.Profile{ProfileID: 1, Score: 999})
	env.lookup.add(config.LookupDiscord, "1000", model.Profile{ProfileID: 2, Score: 1000})

	_, err := env.authorize.Complete(ctx, service.CompleteRequest{RequestToken: env.begin(t, "1000"), Proof: low})
	oerr := assertOAuthError(t, err, service.ErrCodeScoreTooLow)
	assert.Assert(t, strings.Contains(oerr.Description, "999"))
	assert.Assert(t, strings.Contains(oerr.Description, "1000"))

	redirect, err := url.Parse(oerr.RedirectURL())
	assert.NilError(t, err)
	assert.Equal(t, "score_too_low", redirect.Query().Get("error"))
	assert.Equal(t, "xyz", redirect.Query().Get("state"))
	assert.Equal(t, "", redirect.Query().Get("code"))

	completion, err := env.authorize.Complete(ctx, service.CompleteRequest{RequestToken: env.begin(t, "1000"), Proof: exact})
	assert.NilError(t, err)
	assert.Equal(t, 1000, completion.Profile.Score)

	codes, err := env.store.Keys(ctx, "code:*")
	assert.NilError(t, err)
	assert.Equal(t, 1, len(codes))
}

func TestAuthorizeCompleteFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("No linked profile", func(t *testing.T) {
		_, err := env.authorize.Complete(ctx, service.CompleteRequest{RequestToken: env.begin(t, ""), Proof: walletProof})
		oerr := assertOAuthError(t, err, service.ErrCodeNoEthosProfile)
		assert.Assert(t, strings.HasPrefix(oerr.RedirectURL(), testRedirectURI+"?"))
	})

	t.Run("Upstream failure", func(t *testing.T) {
		env.lookup.err = errors.New("connection refused")
		defer func() { env.lookup.err = nil }()

		_, err := env.authorize.Complete(ctx, service.CompleteRequest{RequestToken: env.begin(t, ""), Proof: walletProof})
		oerr := assertOAuthError(t, err, service.ErrCodeServerError)
		assert.Assert(t, !strings.Contains(oerr.Description, "connection refused"))
	})

	t.Run("Redirect URI mismatch", func(t *testing.T) {
		_, err := env.authorize.Complete(ctx, service.CompleteRequest{
			RequestToken: env.begin(t, ""),
			RedirectURI:  "https://pr-1.preview.acme.com/callback",
			Proof:        walletProof,
		})
		assertOAuthError(t, err, service.ErrCodeInvalidGrant)
	})

	t.Run("State mismatch", func(t *testing.T) {
		requestToken := env.begin(t, "")

		_, err := env.authorize.Complete(ctx, service.CompleteRequest{
			RequestToken: requestToken,
			State:        "other",
			Proof:        walletProof,
		})
		oerr := assertOAuthError(t, err, service.ErrCodeInvalidGrant)
		assert.Equal(t, "xyz", oerr.State)

		// The request is consumed by the failed attempt
		_, err = env.authorize.Peek(ctx, requestToken)
		assertOAuthError(t, err, service.ErrCodeInvalidRequest)
	})

	t.Run("Unknown request", func(t *testing.T) {
		_, err := env.authorize.Complete(ctx, service.CompleteRequest{RequestToken: "missing", Proof: walletProof})
		assertOAuthError(t, err, service.ErrCodeInvalidGrant)
	})
}
