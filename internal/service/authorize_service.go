package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/google/go-querystring/query"
)

type FlowState string

const (
	FlowInit          FlowState = "INIT"
	FlowAwaitingProof FlowState = "AWAITING_PROOF"
	FlowProofVerified FlowState = "PROOF_VERIFIED"
	FlowCodeIssued    FlowState = "CODE_ISSUED"
	FlowRedeemed      FlowState = "REDEEMED"
	FlowError         FlowState = "ERROR"
)

var supportedScopes = []string{"openid", config.DefaultScope}

type AuthorizeServiceConfig struct {
	ConnectURL    string
	RequestExpiry int
	CodeExpiry    int
}

type AuthorizeRequest struct {
	ClientID     string `form:"client_id" url:"client_id"`
	RedirectURI  string `form:"redirect_uri" url:"redirect_uri"`
	ResponseType string `form:"response_type" url:"response_type"`
	Scope        string `form:"scope" url:"scope,omitempty"`
	State        string `form:"state" url:"state,omitempty"`
	MinScore     string `form:"min_score" url:"min_score,omitempty"`
}

// Proof is the outcome of a verified identity proof.
type Proof struct {
	AuthMethod    string
	LookupType    string
	Identifier    string
	WalletAddress string
}

// CompleteRequest binds a verified proof to a pending authorization request.
// RedirectURI and State are optional and must match the request when set.
type CompleteRequest struct {
	RequestToken string
	RedirectURI  string
	State        string
	Proof        Proof
}

type Completion struct {
	Code        string
	RedirectURI string
	RedirectURL string
	State       string
	Profile     model.Profile
}

// AuthorizeService drives the authorization flow from /authorize to code issuance.
type AuthorizeService struct {
	config   AuthorizeServiceConfig
	store    store.Store
	clients  *ClientService
	identity *IdentityService
}

func NewAuthorizeService(config AuthorizeServiceConfig, store store.Store, clients *ClientService, identity *IdentityService) *AuthorizeService {
	return &AuthorizeService{
		config:   config,
		store:    store,
		clients:  clients,
		identity: identity,
	}
}

func (s *AuthorizeService) Init() error {
	if s.config.ConnectURL == "" {
		return errors.New("connect url is required")
	}
	if s.config.RequestExpiry <= 0 || s.config.CodeExpiry <= 0 {
		return errors.New("request and code expiry must be positive")
	}
	return nil
}

func (s *AuthorizeService) transition(from FlowState, to FlowState, clientID string) {
	tlog.App.Debug().Str("from", string(from)).Str("to", string(to)).Str("client_id", clientID).Msg("Authorization flow transition")
}

// Begin validates an authorization request and persists it. It returns the
// request token and the URL of the identity selection surface. Nothing is
// persisted when validation fails.
func (s *AuthorizeService) Begin(ctx context.Context, req AuthorizeRequest) (string, string, error) {
	if req.ResponseType == "" {
		return "", "", NewOAuthError(ErrCodeInvalidRequest, "Missing response_type")
	}

	if req.ResponseType != "code" {
		return "", "", NewOAuthError(ErrCodeUnsupportedResponseType, "Only the code response type is supported")
	}

	if req.ClientID == "" || req.RedirectURI == "" {
		return "", "", NewOAuthError(ErrCodeInvalidRequest, "Missing client_id or redirect_uri")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)

	if errors.Is(err, ErrClientNotFound) {
		return "", "", NewOAuthError(ErrCodeInvalidClient, "Client not found")
	}

	if err != nil {
		return "", "", NewServerError(err)
	}

	if !s.clients.ValidateRedirectURI(client, req.RedirectURI) {
		return "", "", NewOAuthError(ErrCodeInvalidRequest, "Invalid redirect_uri")
	}

	scope, err := normalizeScope(req.Scope)
	if err != nil {
		return "", "", err
	}

	minScore, err := parseMinScore(req.MinScore)
	if err != nil {
		return "", "", err
	}

	token, err := utils.GetRandomString(32)
	if err != nil {
		return "", "", NewServerError(err)
	}

	ttl := time.Duration(s.config.RequestExpiry) * time.Second
	now := time.Now()

	state := model.AuthorizationState{
		ClientID:      client.ClientID,
		RedirectURI:   req.RedirectURI,
		Scope:         scope,
		OriginalState: req.State,
		MinScore:      minScore,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(ttl).Unix(),
	}

	if err := store.Put(ctx, s.store, model.AuthorizationStateKey(token), state, ttl); err != nil {
		return "", "", NewServerError(err)
	}

	connectURL, err := s.connectURL(token)
	if err != nil {
		return "", "", NewServerError(err)
	}

	s.transition(FlowInit, FlowAwaitingProof, client.ClientID)

	return token, connectURL, nil
}

func (s *AuthorizeService) connectURL(token string) (string, error) {
	values, err := query.Values(config.ConnectQuery{Request: token})
	if err != nil {
		return "", err
	}

	separator := "?"
	if strings.Contains(s.config.ConnectURL, "?") {
		separator = "&"
	}

	return s.config.ConnectURL + separator + values.Encode(), nil
}

// Peek returns a pending authorization request without consuming it.
func (s *AuthorizeService) Peek(ctx context.Context, token string) (*model.AuthorizationState, error) {
	if token == "" {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Missing authorization request")
	}

	var state model.AuthorizationState
	err := store.Load(ctx, s.store, model.AuthorizationStateKey(token), &state)

	if errors.Is(err, store.ErrNotFound) {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Authorization request is invalid or expired")
	}

	if err != nil {
		return nil, NewServerError(err)
	}

	return &state, nil
}

// Complete consumes the authorization request for a verified proof, resolves
// the reputation profile, applies the score gate and mints an authorization
// code. Errors after the request is consumed carry the client's redirect URI.
func (s *AuthorizeService) Complete(ctx context.Context, req CompleteRequest) (*Completion, error) {
	if req.RequestToken == "" {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Missing authorization request")
	}

	var state model.AuthorizationState
	err := store.Take(ctx, s.store, model.AuthorizationStateKey(req.RequestToken), &state)

	if errors.Is(err, store.ErrNotFound) {
		return nil, NewOAuthError(ErrCodeInvalidGrant, "Authorization request is invalid, expired or already used")
	}

	if err != nil {
		return nil, NewServerError(err)
	}

	fail := func(err *OAuthError) (*Completion, error) {
		s.transition(FlowProofVerified, FlowError, state.ClientID)
		return nil, err.WithRedirect(state.RedirectURI, state.OriginalState)
	}

	if req.RedirectURI != "" && req.RedirectURI != state.RedirectURI {
		return fail(NewOAuthError(ErrCodeInvalidGrant, "redirect_uri does not match the authorization request"))
	}

	if req.State != "" && req.State != state.OriginalState {
		return fail(NewOAuthError(ErrCodeInvalidGrant, "state does not match the authorization request"))
	}

	s.transition(FlowAwaitingProof, FlowProofVerified, state.ClientID)

	profile, err := s.ResolveProof(ctx, req.Proof)
	if err != nil {
		return fail(AsOAuthError(err))
	}

	if state.MinScore != nil && profile.Score < *state.MinScore {
		return fail(NewOAuthError(ErrCodeScoreTooLow, fmt.Sprintf("Ethos score %d is below the required minimum of %d", profile.Score, *state.MinScore)))
	}

	code, err := utils.GetRandomString(32)
	if err != nil {
		return fail(NewServerError(err))
	}

	record := model.AuthorizationCode{
		Code:             code,
		ClientID:         state.ClientID,
		RedirectURI:      state.RedirectURI,
		Scope:            state.Scope,
		State:            state.OriginalState,
		AuthMethod:       req.Proof.AuthMethod,
		ResolvedIdentity: *profile,
		WalletAddress:    req.Proof.WalletAddress,
		CreatedAt:        time.Now().Unix(),
	}

	ttl := time.Duration(s.config.CodeExpiry) * time.Second

	if err := store.Put(ctx, s.store, model.AuthorizationCodeKey(code), record, ttl); err != nil {
		return fail(NewServerError(err))
	}

	redirectURL, err := BuildRedirectURL(state.RedirectURI, config.RedirectQuery{
		Code:  code,
		State: state.OriginalState,
	})
	if err != nil {
		return fail(NewServerError(err))
	}

	s.transition(FlowProofVerified, FlowCodeIssued, state.ClientID)

	return &Completion{
		Code:        code,
		RedirectURI: state.RedirectURI,
		RedirectURL: redirectURL,
		State:       state.OriginalState,
		Profile:     *profile,
	}, nil
}

// ResolveProof maps a verified proof to its reputation profile.
func (s *AuthorizeService) ResolveProof(ctx context.Context, proof Proof) (*model.Profile, error) {
	profile, err := s.identity.Resolve(ctx, proof.LookupType, proof.Identifier)

	if errors.Is(err, ErrProfileNotFound) {
		return nil, NewOAuthError(ErrCodeNoEthosProfile, fmt.Sprintf("No Ethos profile is linked to this %s", proof.LookupType))
	}

	if err != nil {
		return nil, AsOAuthError(err)
	}

	return profile, nil
}

func normalizeScope(scope string) (string, error) {
	scopes := utils.SplitScope(scope)

	if len(scopes) == 0 {
		return config.DefaultScope, nil
	}

	for _, s := range scopes {
		if !slices.Contains(supportedScopes, s) {
			return "", NewOAuthError(ErrCodeInvalidRequest, fmt.Sprintf("Unsupported scope %q", utils.TruncateString(s, 64)))
		}
	}

	if !slices.Contains(scopes, config.DefaultScope) {
		scopes = append(scopes, config.DefaultScope)
	}

	slices.Sort(scopes)
	return strings.Join(slices.Compact(scopes), " "), nil
}

func parseMinScore(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}

	minScore, err := strconv.Atoi(raw)
	if err != nil || minScore < config.MinScore || minScore > config.MaxScore {
		return nil, NewOAuthError(ErrCodeInvalidRequest, fmt.Sprintf("min_score must be an integer between %d and %d", config.MinScore, config.MaxScore))
	}

	return &minScore, nil
}
