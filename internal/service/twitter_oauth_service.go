package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"

	"golang.org/x/oauth2"
)

var TwitterOAuthScopes = []string{"users.read", "tweet.read"}

var TwitterEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

const TwitterUserInfoURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url"

type TwitterUserInfoResponse struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

type TwitterOAuthServiceConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	Endpoint     *oauth2.Endpoint
	UserInfoURL  string
}

type TwitterOAuthService struct {
	config      oauth2.Config
	httpClient  *http.Client
	userInfoURL string
}

func NewTwitterOAuthService(cfg TwitterOAuthServiceConfig) *TwitterOAuthService {
	endpoint := TwitterEndpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = TwitterUserInfoURL
	}

	return &TwitterOAuthService{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       TwitterOAuthScopes,
			Endpoint:     endpoint,
		},
		httpClient: &http.Client{
			Timeout: providerTimeout(cfg.Timeout),
		},
		userInfoURL: userInfoURL,
	}
}

func (twitter *TwitterOAuthService) Init() error {
	if twitter.config.ClientID == "" {
		return fmt.Errorf("twitter client id is required")
	}
	return nil
}

func (twitter *TwitterOAuthService) GetName() string {
	return config.AuthMethodTwitter
}

func (twitter *TwitterOAuthService) LookupType() string {
	return config.LookupX
}

func (twitter *TwitterOAuthService) SupportsPKCE() bool {
	return true
}

func (twitter *TwitterOAuthService) GetAuthURL(state string, verifier string) string {
	return twitter.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (twitter *TwitterOAuthService) Exchange(ctx context.Context, params url.Values, verifier string) (*SocialIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, twitter.httpClient)

	token, err := twitter.config.Exchange(ctx, params.Get("code"), oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, exchangeError(err)
	}

	client := twitter.config.Client(ctx, token)

	var userInfo TwitterUserInfoResponse
	if err := fetchJSON(ctx, client, twitter.userInfoURL, &userInfo); err != nil {
		return nil, err
	}

	if userInfo.Data.ID == "" {
		return nil, fmt.Errorf("twitter user has no id")
	}

	return &SocialIdentity{
		ID:       userInfo.Data.ID,
		Username: userInfo.Data.Username,
		Name:     userInfo.Data.Name,
	}, nil
}
