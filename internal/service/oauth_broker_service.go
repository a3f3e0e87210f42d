package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"golang.org/x/oauth2"
)

// SocialIdentity is the account a provider vouched for.
type SocialIdentity struct {
	ID       string
	Username string
	Name     string
}

type SocialProvider interface {
	Init() error
	GetName() string
	LookupType() string
	SupportsPKCE() bool
	GetAuthURL(state string, verifier string) string
	Exchange(ctx context.Context, params url.Values, verifier string) (*SocialIdentity, error)
}

type SocialBrokerServiceConfig struct {
	AppURL        string
	Social        config.SocialConfig
	SessionExpiry int
}

type SocialStart struct {
	AuthURL string
	State   string
}

type SocialResult struct {
	Provider     string
	LookupType   string
	Identity     SocialIdentity
	RequestToken string
}

// SocialBrokerService runs the redirect round trip with every configured social provider.
type SocialBrokerService struct {
	config    SocialBrokerServiceConfig
	store     store.Store
	providers map[string]SocialProvider
}

func NewSocialBrokerService(config SocialBrokerServiceConfig, store store.Store) *SocialBrokerService {
	return &SocialBrokerService{
		config:    config,
		store:     store,
		providers: make(map[string]SocialProvider),
	}
}

func (broker *SocialBrokerService) Init() error {
	timeout := time.Duration(broker.config.Social.Timeout) * time.Second
	discord := broker.config.Social.Discord
	twitter := broker.config.Social.Twitter
	telegram := broker.config.Social.Telegram

	if discord.ClientID != "" {
		broker.Register(NewDiscordOAuthService(DiscordOAuthServiceConfig{
			ClientID:     discord.ClientID,
			ClientSecret: utils.GetSecret(discord.ClientSecret, discord.ClientSecretFile),
			RedirectURL:  broker.redirectURL(config.AuthMethodDiscord, discord.RedirectURL),
			Timeout:      timeout,
		}))
	}

	if twitter.ClientID != "" {
		broker.Register(NewTwitterOAuthService(TwitterOAuthServiceConfig{
			ClientID:     twitter.ClientID,
			ClientSecret: utils.GetSecret(twitter.ClientSecret, twitter.ClientSecretFile),
			RedirectURL:  broker.redirectURL(config.AuthMethodTwitter, twitter.RedirectURL),
			Timeout:      timeout,
		}))
	}

	if botToken := utils.GetSecret(telegram.BotToken, telegram.BotTokenFile); botToken != "" {
		broker.Register(NewTelegramLoginService(TelegramLoginServiceConfig{
			BotToken:    botToken,
			RedirectURL: broker.redirectURL(config.AuthMethodTelegram, ""),
			Origin:      strings.TrimSuffix(broker.config.AppURL, "/"),
			MaxAuthAge:  time.Duration(telegram.MaxAuthAge) * time.Second,
		}))
	}

	for name, provider := range broker.providers {
		if err := provider.Init(); err != nil {
			return fmt.Errorf("failed to initialize %s provider: %w", name, err)
		}
		tlog.App.Debug().Str("provider", name).Msg("Initialized social provider")
	}

	return nil
}

// Register adds a provider, replacing any provider with the same name.
func (broker *SocialBrokerService) Register(provider SocialProvider) {
	broker.providers[provider.GetName()] = provider
}

func (broker *SocialBrokerService) GetConfiguredProviders() []string {
	names := make([]string, 0, len(broker.providers))
	for name := range broker.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (broker *SocialBrokerService) GetProvider(name string) (SocialProvider, bool) {
	provider, exists := broker.providers[name]
	return provider, exists
}

func (broker *SocialBrokerService) redirectURL(provider string, override string) string {
	if override != "" {
		return override
	}
	return strings.TrimSuffix(broker.config.AppURL, "/") + "/auth/" + provider + "/callback"
}

// Start persists a social session keyed by a fresh CSRF state and returns the provider URL.
func (broker *SocialBrokerService) Start(ctx context.Context, providerName string, requestToken string) (*SocialStart, error) {
	provider, exists := broker.providers[providerName]
	if !exists {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Unknown or unconfigured provider")
	}

	state, err := utils.GetRandomString(32)
	if err != nil {
		return nil, NewServerError(err)
	}

	verifier := ""
	if provider.SupportsPKCE() {
		verifier = oauth2.GenerateVerifier()
	}

	session := model.SocialSession{
		Provider:     providerName,
		Verifier:     verifier,
		RequestToken: requestToken,
		CreatedAt:    time.Now().Unix(),
	}

	ttl := time.Duration(broker.config.SessionExpiry) * time.Second

	if err := store.Put(ctx, broker.store, model.SocialSessionKey(state), session, ttl); err != nil {
		return nil, NewServerError(err)
	}

	return &SocialStart{
		AuthURL: provider.GetAuthURL(state, verifier),
		State:   state,
	}, nil
}

// Finish consumes the social session named by the callback state and
// exchanges the callback parameters for a verified identity.
func (broker *SocialBrokerService) Finish(ctx context.Context, providerName string, params url.Values) (*SocialResult, error) {
	provider, exists := broker.providers[providerName]
	if !exists {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Unknown or unconfigured provider")
	}

	state := params.Get("state")
	if state == "" {
		return nil, NewOAuthError(ErrCodeInvalidState, "Missing state")
	}

	var session model.SocialSession
	err := store.Take(ctx, broker.store, model.SocialSessionKey(state), &session)

	if errors.Is(err, store.ErrNotFound) {
		return nil, NewOAuthError(ErrCodeInvalidState, "State is invalid, expired or already used")
	}

	if err != nil {
		return nil, NewServerError(err)
	}

	if session.Provider != providerName {
		return nil, NewOAuthError(ErrCodeInvalidState, "State was issued for another provider")
	}

	if providerErr := params.Get("error"); providerErr != "" {
		tlog.App.Debug().Str("provider", providerName).Str("error", providerErr).Msg("Provider returned an error")
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Authorization was denied by the provider")
	}

	identity, err := provider.Exchange(ctx, params, session.Verifier)
	if err != nil {
		var oerr *OAuthError
		if errors.As(err, &oerr) {
			return nil, oerr
		}
		if errors.Is(err, ErrUpstream) {
			tlog.App.Error().Err(err).Str("provider", providerName).Msg("Provider is unavailable")
			return nil, NewServerError(err)
		}
		tlog.App.Warn().Err(err).Str("provider", providerName).Msg("Provider exchange failed")
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Provider authentication failed")
	}

	return &SocialResult{
		Provider:     providerName,
		LookupType:   provider.LookupType(),
		Identity:     *identity,
		RequestToken: session.RequestToken,
	}, nil
}
