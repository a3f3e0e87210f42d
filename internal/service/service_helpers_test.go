package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"gotest.tools/v3/assert"
)

const (
	testClientID     = "acme"
	testClientSecret = "acme-client-secret"
	testRedirectURI  = "https://app.acme.com/callback"
	testSecret       = "0123456789abcdef0123456789abcdef"
	testIssuer       = "https://connect.example.com"
)

type fakeLookup struct {
	mu       sync.Mutex
	profiles map[string]model.Profile
	err      error
	calls    int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		profiles: make(map[string]model.Profile),
	}
}

func (f *fakeLookup) add(lookupType string, identifier string, profile model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[lookupType+":"+identifier] = profile
}

func (f *fakeLookup) Lookup(_ context.Context, lookupType string, identifier string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	profile, ok := f.profiles[lookupType+":"+identifier]
	if !ok {
		return nil, service.ErrProfileNotFound
	}

	return &profile, nil
}

type testEnv struct {
	store     *store.MemoryStore
	lookup    *fakeLookup
	clients   *service.ClientService
	nonces    *service.NonceService
	identity  *service.IdentityService
	authorize *service.AuthorizeService
	tokens    *service.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tlog.NewSimpleLogger().Init()

	memory := store.NewMemoryStore()
	lookup := newFakeLookup()

	clients := service.NewClientService(service.ClientServiceConfig{
		Clients: map[string]config.ClientConfig{
			"acme": {
				ClientID:     testClientID,
				ClientSecret: testClientSecret,
				RedirectURIs: []string{testRedirectURI, "https://*.preview.acme.com/callback"},
				Name:         "Acme",
			},
		},
	}, memory)
	assert.NilError(t, clients.Init())

	nonces := service.NewNonceService(service.NonceServiceConfig{
		NonceExpiry:     300,
		ChallengeExpiry: 120,
	}, memory)
	assert.NilError(t, nonces.Init())

	identity := service.NewIdentityService(service.IdentityServiceConfig{
		CacheExpiry: 600,
	}, memory, lookup)
	assert.NilError(t, identity.Init())

	authorize := service.NewAuthorizeService(service.AuthorizeServiceConfig{
		ConnectURL:    "https://connect.example.com/connect",
		RequestExpiry: 300,
		CodeExpiry:    300,
	}, memory, clients, identity)
	assert.NilError(t, authorize.Init())

	tokens := service.NewTokenService(service.TokenServiceConfig{
		Secret:            testSecret,
		Issuer:            testIssuer,
		AccessTokenExpiry: 3600,
	}, memory, clients)
	assert.NilError(t, tokens.Init())

	return &testEnv{
		store:     memory,
		lookup:    lookup,
		clients:   clients,
		nonces:    nonces,
		identity:  identity,
		authorize: authorize,
		tokens:    tokens,
	}
}

func (env *testEnv) begin(t *testing.T, minScore string) string {
	t.Helper()

	token, _, err := env.authorize.Begin(context.Background(), service.AuthorizeRequest{
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		ResponseType: "code",
		Scope:        "profile",
		State:        "xyz",
		MinScore:     minScore,
	})
	assert.NilError(t, err)

	return token
}

func assertOAuthError(t *testing.T, err error, code string) *service.OAuthError {
	t.Helper()

	assert.Assert(t, err != nil, "expected %s error", code)

	oerr := service.AsOAuthError(err)
	assert.Equal(t, code, oerr.Code, "unexpected error: %v", err)

	return oerr
}
