package controller_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/controller"
	"github.com/trust-ethos/ethos-connect/internal/middleware"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/spruceid/siwe-go"
	"gotest.tools/v3/assert"
)

const (
	testClientID     = "acme"
	testClientSecret = "acme-client-secret"
	testRedirectURI  = "https://app.acme.com/callback"
	testAdminToken   = "admin-token"
	testDomain       = "connect.example.com"
	testAppURL       = "https://connect.example.com"
)

type fakeLookup struct {
	mu       sync.Mutex
	profiles map[string]model.Profile
}

func (f *fakeLookup) add(lookupType string, identifier string, profile model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[lookupType+":"+identifier] = profile
}

func (f *fakeLookup) Lookup(_ context.Context, lookupType string, identifier string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	profile, ok := f.profiles[lookupType+":"+identifier]
	if !ok {
		return nil, service.ErrProfileNotFound
	}
	return &profile, nil
}

type fakeProvider struct{}

func (fakeProvider) Init() error        { return nil }
func (fakeProvider) GetName() string    { return config.AuthMethodDiscord }
func (fakeProvider) LookupType() string { return config.LookupDiscord }
func (fakeProvider) SupportsPKCE() bool { return false }

func (fakeProvider) GetAuthURL(state string, _ string) string {
	return "https://discord.example.com/authorize?state=" + url.QueryEscape(state)
}

func (fakeProvider) Exchange(_ context.Context, params url.Values, _ string) (*service.SocialIdentity, error) {
	if params.Get("code") == "" {
		return nil, errors.New("missing code")
	}
	return &service.SocialIdentity{ID: "discord-" + params.Get("code")}, nil
}

type testApp struct {
	router    *gin.Engine
	store     *store.MemoryStore
	lookup    *fakeLookup
	clients   *service.ClientService
	authorize *service.AuthorizeService
	tokens    *service.TokenService
}

func setupTestApp(t *testing.T, rateLimit middleware.RateLimitMiddlewareConfig) *testApp {
	t.Helper()

	tlog.NewSimpleLogger().Init()
	gin.SetMode(gin.TestMode)

	memory := store.NewMemoryStore()
	lookup := &fakeLookup{profiles: make(map[string]model.Profile)}

	clients := service.NewClientService(service.ClientServiceConfig{
		Clients: map[string]config.ClientConfig{
			"acme": {
				ClientID:     testClientID,
				ClientSecret: testClientSecret,
				RedirectURIs: []string{testRedirectURI},
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

	tokens := service.NewTokenService(service.TokenServiceConfig{
		Secret:            "0123456789abcdef0123456789abcdef",
		Issuer:            testAppURL,
		AccessTokenExpiry: 3600,
	}, memory, clients)
	assert.NilError(t, tokens.Init())

	authorize := service.NewAuthorizeService(service.AuthorizeServiceConfig{
		ConnectURL:    testAppURL + "/connect",
		RequestExpiry: 300,
		CodeExpiry:    300,
	}, memory, clients, identity)
	assert.NilError(t, authorize.Init())

	wallet := service.NewWalletService(service.WalletServiceConfig{
		Domain: testDomain,
	}, nonces)
	assert.NilError(t, wallet.Init())

	broker := service.NewSocialBrokerService(service.SocialBrokerServiceConfig{
		AppURL:        testAppURL,
		SessionExpiry: 300,
	}, memory)
	assert.NilError(t, broker.Init())
	broker.Register(fakeProvider{})

	contextMiddleware := middleware.NewContextMiddleware(middleware.ContextMiddlewareConfig{
		AdminToken: testAdminToken,
	}, tokens)
	assert.NilError(t, contextMiddleware.Init())

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(rateLimit)
	assert.NilError(t, rateLimitMiddleware.Init())
	limiter := rateLimitMiddleware.Middleware()

	router := gin.New()
	root := &router.RouterGroup
	api := router.Group("/api")

	controller.NewOAuth2Controller(controller.OAuth2ControllerConfig{
		AppURL:      testAppURL,
		AuthMethods: []string{config.AuthMethodWallet, config.AuthMethodDiscord},
	}, root, limiter, authorize, tokens, clients, contextMiddleware).SetupRoutes()

	controller.NewWalletController(root, limiter, nonces, wallet, authorize).SetupRoutes()

	controller.NewSocialController(controller.SocialControllerConfig{
		CSRFCookieName: config.CSRFCookieName,
		SessionExpiry:  300,
	}, root, broker, authorize).SetupRoutes()

	controller.NewClientController(api, contextMiddleware.RequireAdmin(), clients).SetupRoutes()

	controller.NewHealthController(api, func(ctx context.Context) error {
		_, err := memory.Exists(ctx, "health")
		return err
	}).SetupRoutes()

	return &testApp{
		router:    router,
		store:     memory,
		lookup:    lookup,
		clients:   clients,
		authorize: authorize,
		tokens:    tokens,
	}
}

func (app *testApp) begin(t *testing.T, minScore string) string {
	t.Helper()

	token, _, err := app.authorize.Begin(context.Background(), service.AuthorizeRequest{
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

type signedMessage struct {
	Message     string `json:"message"`
	Signature   string `json:"signature"`
	Address     string `json:"address"`
	Request     string `json:"request,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	State       string `json:"state,omitempty"`
}

func signSIWE(t *testing.T, key *ecdsa.PrivateKey, nonce string) signedMessage {
	t.Helper()

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	now := time.Now().UTC()

	message := strings.Join([]string{
		fmt.Sprintf("%s wants you to sign in with your Ethereum account:", testDomain),
		address,
		"",
		"Sign in with Ethos",
		"",
		fmt.Sprintf("URI: https://%s", testDomain),
		"Version: 1",
		"Chain ID: 1",
		fmt.Sprintf("Nonce: %s", nonce),
		fmt.Sprintf("Issued At: %s", now.Add(-time.Minute).Format(time.RFC3339)),
		fmt.Sprintf("Expiration Time: %s", now.Add(10*time.Minute).Format(time.RFC3339)),
	}, "\n")

	parsed, err := siwe.ParseMessage(message)
	assert.NilError(t, err)

	message = parsed.String()

	signature, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	assert.NilError(t, err)
	signature[64] += 27

	return signedMessage{
		Message:   message,
		Signature: hexutil.Encode(signature),
		Address:   address,
	}
}
