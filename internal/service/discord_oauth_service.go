package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var DiscordOAuthScopes = []string{"identify"}

const DiscordUserInfoURL = "https://discord.com/api/users/@me"

type DiscordUserInfoResponse struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

type DiscordOAuthServiceConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	Endpoint     *oauth2.Endpoint
	UserInfoURL  string
}

type DiscordOAuthService struct {
	config      oauth2.Config
	httpClient  *http.Client
	userInfoURL string
}

func NewDiscordOAuthService(cfg DiscordOAuthServiceConfig) *DiscordOAuthService {
	endpoint := endpoints.Discord
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = DiscordUserInfoURL
	}

	return &DiscordOAuthService{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       DiscordOAuthScopes,
			Endpoint:     endpoint,
		},
		httpClient: &http.Client{
			Timeout: providerTimeout(cfg.Timeout),
		},
		userInfoURL: userInfoURL,
	}
}

func (discord *DiscordOAuthService) Init() error {
	if discord.config.ClientID == "" || discord.config.ClientSecret == "" {
		return fmt.Errorf("discord client id and secret are required")
	}
	return nil
}

func (discord *DiscordOAuthService) GetName() string {
	return config.AuthMethodDiscord
}

func (discord *DiscordOAuthService) LookupType() string {
	return config.LookupDiscord
}

func (discord *DiscordOAuthService) SupportsPKCE() bool {
	return false
}

func (discord *DiscordOAuthService) GetAuthURL(state string, _ string) string {
	return discord.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "none"))
}

func (discord *DiscordOAuthService) Exchange(ctx context.Context, params url.Values, _ string) (*SocialIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, discord.httpClient)

	token, err := discord.config.Exchange(ctx, params.Get("code"))
	if err != nil {
		return nil, exchangeError(err)
	}

	client := discord.config.Client(ctx, token)

	var userInfo DiscordUserInfoResponse
	if err := fetchJSON(ctx, client, discord.userInfoURL, &userInfo); err != nil {
		return nil, err
	}

	if userInfo.ID == "" {
		return nil, fmt.Errorf("discord user has no id")
	}

	name := userInfo.GlobalName
	if name == "" {
		name = userInfo.Username
	}

	return &SocialIdentity{
		ID:       userInfo.ID,
		Username: userInfo.Username,
		Name:     name,
	}, nil
}

func providerTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 10 * time.Second
	}
	return timeout
}

// exchangeError keeps a 4xx token response as a rejection of the code.
// Anything else is the provider failing and wraps ErrUpstream.
func exchangeError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode >= 400 && rerr.Response.StatusCode < 500 {
		return fmt.Errorf("code exchange rejected: %w", err)
	}
	return fmt.Errorf("%w: code exchange failed: %w", ErrUpstream, err)
}

func fetchJSON(ctx context.Context, client *http.Client, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: request failed with status: %s", ErrUpstream, res.Status)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed response: %w", ErrUpstream, err)
	}

	return nil
}
