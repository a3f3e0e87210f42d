package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenServiceConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry int
	Now               func() time.Time
}

type AccessClaims struct {
	Name              string   `json:"name,omitempty"`
	Picture           string   `json:"picture,omitempty"`
	EthosProfileID    int      `json:"ethos_profile_id"`
	EthosUsername     string   `json:"ethos_username,omitempty"`
	EthosScore        int      `json:"ethos_score"`
	EthosStatus       string   `json:"ethos_status,omitempty"`
	EthosAttestations []string `json:"ethos_attestations"`
	AuthMethod        string   `json:"auth_method"`
	WalletAddress     string   `json:"wallet_address,omitempty"`
	ClientID          string   `json:"client_id"`
	Scope             string   `json:"scope"`
	jwt.RegisteredClaims
}

type TokenRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// TokenService exchanges authorization codes for signed access tokens and verifies them.
type TokenService struct {
	config  TokenServiceConfig
	store   store.Store
	clients *ClientService
}

func NewTokenService(config TokenServiceConfig, store store.Store, clients *ClientService) *TokenService {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TokenService{
		config:  config,
		store:   store,
		clients: clients,
	}
}

func (s *TokenService) Init() error {
	if len(s.config.Secret) < 32 {
		return errors.New("token signing secret must be at least 32 bytes")
	}
	if s.config.Issuer == "" {
		return errors.New("token issuer is required")
	}
	if s.config.AccessTokenExpiry <= 0 {
		return errors.New("access token expiry must be positive")
	}
	return nil
}

func (s *TokenService) GetIssuer() string {
	return s.config.Issuer
}

func (s *TokenService) GetAccessTokenExpiry() int {
	return s.config.AccessTokenExpiry
}

func (s *TokenService) IssueAccessToken(profile model.Profile, authMethod string, walletAddress string, clientID string, scope string) (string, error) {
	now := s.config.Now()

	attestations := profile.Attestations
	if attestations == nil {
		attestations = []string{}
	}

	claims := AccessClaims{
		Name:              profile.DisplayName,
		Picture:           profile.AvatarURL,
		EthosProfileID:    profile.ProfileID,
		EthosUsername:     profile.Username,
		EthosScore:        profile.Score,
		EthosStatus:       profile.Status,
		EthosAttestations: attestations,
		AuthMethod:        authMethod,
		WalletAddress:     walletAddress,
		ClientID:          clientID,
		Scope:             scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   strconv.Itoa(profile.ProfileID),
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.config.AccessTokenExpiry) * time.Second)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

// VerifyAccessToken checks signature, algorithm, issuer, expiry and, when
// audience is set, the audience. Every failure is ErrInvalidToken.
func (s *TokenService) VerifyAccessToken(accessToken string, audience string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.config.Now),
	}

	if audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}

	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (any, error) {
		return []byte(s.config.Secret), nil
	}, options...)

	if err != nil || !token.Valid {
		tlog.App.Debug().Err(err).Msg("Access token rejected")
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RedeemCode authenticates the client, consumes the code and checks that it was
// issued to the same client and redirect URI.
func (s *TokenService) RedeemCode(ctx context.Context, req TokenRequest) (*TokenResponse, *model.AuthorizationCode, error) {
	if req.Code == "" {
		return nil, nil, NewOAuthError(ErrCodeInvalidRequest, "Missing authorization code")
	}

	if _, err := s.clients.ValidateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
		return nil, nil, err
	}

	var code model.AuthorizationCode
	err := store.Take(ctx, s.store, model.AuthorizationCodeKey(req.Code), &code)

	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, NewOAuthError(ErrCodeInvalidGrant, "Invalid or expired authorization code")
	}

	if err != nil {
		return nil, nil, NewServerError(err)
	}

	if code.ClientID != req.ClientID || code.RedirectURI != req.RedirectURI {
		tlog.App.Warn().Str("client_id", req.ClientID).Msg("Authorization code binding mismatch")
		return nil, nil, NewOAuthError(ErrCodeInvalidGrant, "Authorization code was not issued to this client or redirect_uri")
	}

	accessToken, err := s.IssueAccessToken(code.ResolvedIdentity, code.AuthMethod, code.WalletAddress, code.ClientID, code.Scope)
	if err != nil {
		return nil, nil, NewServerError(err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.config.AccessTokenExpiry,
		Scope:       code.Scope,
	}, &code, nil
}
