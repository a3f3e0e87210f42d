package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/service"

	"golang.org/x/oauth2"
	"gotest.tools/v3/assert"
)

type fakeProvider struct {
	name string
	pkce bool
	fail bool
}

func (f *fakeProvider) Init() error        { return nil }
func (f *fakeProvider) GetName() string    { return f.name }
func (f *fakeProvider) LookupType() string { return config.LookupDiscord }
func (f *fakeProvider) SupportsPKCE() bool { return f.pkce }

func (f *fakeProvider) GetAuthURL(state string, verifier string) string {
	return "https://provider.example.com/authorize?state=" + state + "&verifier=" + verifier
}

func (f *fakeProvider) Exchange(_ context.Context, params url.Values, verifier string) (*service.SocialIdentity, error) {
	if f.fail {
		return nil, errors.New("exchange failed")
	}
	if f.pkce && verifier == "" {
		return nil, errors.New("missing verifier")
	}
	return &service.SocialIdentity{ID: "user-" + params.Get("code")}, nil
}

func newBroker(t *testing.T, env *testEnv, providers ...service.SocialProvider) *service.SocialBrokerService {
	t.Helper()

	broker := service.NewSocialBrokerService(service.SocialBrokerServiceConfig{
		AppURL:        testIssuer,
		SessionExpiry: 300,
	}, env.store)
	assert.NilError(t, broker.Init())

	for _, provider := range providers {
		broker.Register(provider)
	}

	return broker
}

func TestSocialBroker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	broker := newBroker(t, env, &fakeProvider{name: "discord"}, &fakeProvider{name: "twitter", pkce: true})
	assert.DeepEqual(t, []string{"discord", "twitter"}, broker.GetConfiguredProviders())

	start, err := broker.Start(ctx, "twitter", "request-token")
	assert.NilError(t, err)
	assert.Assert(t, start.State != "")

	authURL, err := url.Parse(start.AuthURL)
	assert.NilError(t, err)
	assert.Assert(t, authURL.Query().Get("verifier") != "")

	result, err := broker.Finish(ctx, "twitter", url.Values{"state": {start.State}, "code": {"123"}})
	assert.NilError(t, err)
	assert.Equal(t, "user-123", result.Identity.ID)
	assert.Equal(t, "request-token", result.RequestToken)
	assert.Equal(t, config.LookupDiscord, result.LookupType)

	_, err = broker.Finish(ctx, "twitter", url.Values{"state": {start.State}, "code": {"123"}})
	assertOAuthError(t, err, service.ErrCodeInvalidState)

	t.Run("Unknown state", func(t *testing.T) {
		_, err := broker.Finish(ctx, "discord", url.Values{"state": {"forged"}, "code": {"1"}})
		assertOAuthError(t, err, service.ErrCodeInvalidState)
	})

	t.Run("State for another provider", func(t *testing.T) {
		start, err := broker.Start(ctx, "discord", "request-token")
		assert.NilError(t, err)

		_, err = broker.Finish(ctx, "twitter", url.Values{"state": {start.State}, "code": {"1"}})
		assertOAuthError(t, err, service.ErrCodeInvalidState)
	})

	t.Run("Provider error", func(t *testing.T) {
		start, err := broker.Start(ctx, "discord", "request-token")
		assert.NilError(t, err)

		_, err = broker.Finish(ctx, "discord", url.Values{"state": {start.State}, "error": {"access_denied"}})
		assertOAuthError(t, err, service.ErrCodeInvalidAuth)
	})

	t.Run("Unconfigured provider", func(t *testing.T) {
		_, err := broker.Start(ctx, "myspace", "request-token")
		assertOAuthError(t, err, service.ErrCodeInvalidRequest)
	})
}

func TestDiscordExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			assert.NilError(t, r.ParseForm())
			assert.Equal(t, "good-code", r.Form.Get("code"))
			w.Write([]byte(`{"access_token":"discord-token","token_type":"Bearer","expires_in":3600}`))
		case "/users/@me":
			assert.Equal(t, "Bearer discord-token", r.Header.Get("Authorization"))
			w.Write([]byte(`{"id":"80351110224678912","username":"nelly","global_name":"Nelly"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	discord := service.NewDiscordOAuthService(service.DiscordOAuthServiceConfig{
		ClientID:     "discord-client",
		ClientSecret: "discord-secret",
		RedirectURL:  testIssuer + "/auth/discord/callback",
		Timeout:      2 * time.Second,
		Endpoint: &oauth2.Endpoint{
			AuthURL:   server.URL + "/authorize",
			TokenURL:  server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: server.URL + "/users/@me",
	})
	assert.NilError(t, discord.Init())

	authURL, err := url.Parse(discord.GetAuthURL("the-state", ""))
	assert.NilError(t, err)
	assert.Equal(t, "the-state", authURL.Query().Get("state"))
	assert.Equal(t, "identify", authURL.Query().Get("scope"))

	identity, err := discord.Exchange(context.Background(), url.Values{"code": {"good-code"}}, "")
	assert.NilError(t, err)
	assert.Equal(t, "80351110224678912", identity.ID)
	assert.Equal(t, "Nelly", identity.Name)
}

func TestSocialBrokerProviderFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	type testCase struct {
		description string
		token       http.HandlerFunc
		userInfo    http.HandlerFunc
		code        string
	}

	goodToken := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"discord-token","token_type":"Bearer","expires_in":3600}`))
	}

	goodUser := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"80351110224678912","username":"nelly"}`))
	}

	tests := []testCase{
		{
			description: "Token endpoint times out",
			token: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(300 * time.Millisecond):
				case <-r.Context().Done():
				}
				goodToken(w, r)
			},
			userInfo: goodUser,
			code:     service.ErrCodeServerError,
		},
		{
			description: "Token endpoint fails",
			token: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			userInfo: goodUser,
			code:     service.ErrCodeServerError,
		},
		{
			description: "User info endpoint fails",
			token:       goodToken,
			userInfo: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			code: service.ErrCodeServerError,
		},
		{
			description: "Code is rejected",
			token: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
			},
			userInfo: goodUser,
			code:     service.ErrCodeInvalidAuth,
		},
		{
			description: "User has no id",
			token:       goodToken,
			userInfo: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"username":"nelly"}`))
			},
			code: service.ErrCodeInvalidAuth,
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/token", test.token)
			mux.HandleFunc("/users/@me", test.userInfo)

			server := httptest.NewServer(mux)
			defer server.Close()

			discord := service.NewDiscordOAuthService(service.DiscordOAuthServiceConfig{
				ClientID:     "discord-client",
				ClientSecret: "discord-secret",
				RedirectURL:  testIssuer + "/auth/discord/callback",
				Timeout:      50 * time.Millisecond,
				Endpoint: &oauth2.Endpoint{
					AuthURL:   server.URL + "/authorize",
					TokenURL:  server.URL + "/token",
					AuthStyle: oauth2.AuthStyleInParams,
				},
				UserInfoURL: server.URL + "/users/@me",
			})
			assert.NilError(t, discord.Init())

			broker := newBroker(t, env, discord)

			start, err := broker.Start(ctx, config.AuthMethodDiscord, "request-token")
			assert.NilError(t, err)

			_, err = broker.Finish(ctx, config.AuthMethodDiscord, url.Values{"state": {start.State}, "code": {"abc"}})
			oerr := assertOAuthError(t, err, test.code)

			if test.code == service.ErrCodeServerError {
				assert.Equal(t, http.StatusInternalServerError, oerr.Status)
				assert.Assert(t, errors.Is(err, service.ErrUpstream))
			} else {
				assert.Equal(t, http.StatusUnauthorized, oerr.Status)
			}
		})
	}
}

func TestTelegramLogin(t *testing.T) {
	const botToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

	now := time.Now()
	telegram := service.NewTelegramLoginService(service.TelegramLoginServiceConfig{
		BotToken:    botToken,
		RedirectURL: testIssuer + "/auth/telegram/callback",
		Origin:      testIssuer,
		MaxAuthAge:  24 * time.Hour,
		Now:         func() time.Time { return now },
	})
	assert.NilError(t, telegram.Init())

	authURL, err := url.Parse(telegram.GetAuthURL("the-state", ""))
	assert.NilError(t, err)
	assert.Equal(t, "123456", authURL.Query().Get("bot_id"))
	assert.Equal(t, testIssuer+"/auth/telegram/callback?state=the-state", authURL.Query().Get("return_to"))

	fields := map[string]string{
		"id":         "99",
		"first_name": "Tele",
		"username":   "tele",
		"auth_date":  strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
	}
	hash := service.SignTelegramFields(botToken, fields)

	params := url.Values{"state": {"the-state"}, "hash": {hash}}
	for key, value := range fields {
		params.Set(key, value)
	}

	identity, err := telegram.Exchange(context.Background(), params, "")
	assert.NilError(t, err)
	assert.Equal(t, "99", identity.ID)
	assert.Equal(t, "Tele", identity.Name)

	t.Run("Fragment payload", func(t *testing.T) {
		payload, err := json.Marshal(map[string]any{
			"id":         99,
			"first_name": "Tele",
			"username":   "tele",
			"auth_date":  now.Add(-time.Minute).Unix(),
			"hash":       hash,
		})
		assert.NilError(t, err)

		identity, err := telegram.Exchange(context.Background(), url.Values{
			"tgAuthResult": {base64.RawURLEncoding.EncodeToString(payload)},
		}, "")
		assert.NilError(t, err)
		assert.Equal(t, "99", identity.ID)
	})

	t.Run("Tampered payload", func(t *testing.T) {
		tampered := url.Values{}
		for key, values := range params {
			tampered[key] = values
		}
		tampered.Set("id", "100")

		_, err := telegram.Exchange(context.Background(), tampered, "")
		assertOAuthError(t, err, service.ErrCodeInvalidAuth)
	})

	t.Run("Stale login", func(t *testing.T) {
		stale := map[string]string{
			"id":        "99",
			"auth_date": strconv.FormatInt(now.Add(-48*time.Hour).Unix(), 10),
		}
		params := url.Values{"hash": {service.SignTelegramFields(botToken, stale)}}
		for key, value := range stale {
			params.Set(key, value)
		}

		_, err := telegram.Exchange(context.Background(), params, "")
		assertOAuthError(t, err, service.ErrCodeAuthExpired)
	})
}
