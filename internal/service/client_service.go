package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type ClientServiceConfig struct {
	Clients   map[string]config.ClientConfig
	DevClient config.DevClientConfig
}

type RegisterClientRequest struct {
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
}

type ClientService struct {
	config ClientServiceConfig
	store  store.Store
}

func NewClientService(config ClientServiceConfig, store store.Store) *ClientService {
	return &ClientService{
		config: config,
		store:  store,
	}
}

func (s *ClientService) Init() error {
	ctx := context.Background()

	if err := s.syncDevClient(ctx); err != nil {
		return err
	}

	return s.SyncClientsFromConfig(ctx, s.config.Clients)
}

func (s *ClientService) syncDevClient(ctx context.Context) error {
	id := s.config.DevClient.ClientID

	if id == "" {
		return nil
	}

	if !s.config.DevClient.Enabled {
		// A dev client left over from an earlier run must not stay reachable
		if err := s.store.Delete(ctx, model.ClientKey(id)); err != nil {
			return fmt.Errorf("failed to remove dev client: %w", err)
		}
		return nil
	}

	if s.config.DevClient.ClientSecret == "" {
		return errors.New("dev client is enabled but has no secret")
	}

	hash, err := hashClientSecret(s.config.DevClient.ClientSecret)
	if err != nil {
		return err
	}

	client := model.Client{
		ClientID:         id,
		ClientSecretHash: hash,
		Name:             "Development",
		RedirectURIs:     []string{},
		CreatedAt:        time.Now().Unix(),
	}

	if err := store.Put(ctx, s.store, model.ClientKey(id), client, 0); err != nil {
		return fmt.Errorf("failed to store dev client: %w", err)
	}

	tlog.App.Warn().Str("client_id", id).Msg("Development client enabled, any loopback redirect URI is accepted")
	return nil
}

func (s *ClientService) SyncClientsFromConfig(ctx context.Context, clients map[string]config.ClientConfig) error {
	for name, cfg := range clients {
		clientID := cfg.ClientID
		if clientID == "" {
			clientID = name
		}

		secret := utils.GetSecret(cfg.ClientSecret, cfg.ClientSecretFile)

		if secret == "" {
			tlog.App.Warn().Str("client_id", clientID).Msg("Client secret is empty, skipping client")
			continue
		}

		if len(cfg.RedirectURIs) == 0 {
			tlog.App.Warn().Str("client_id", clientID).Msg("No redirect URIs configured for client, skipping client")
			continue
		}

		if err := validateRedirectURIs(cfg.RedirectURIs); err != nil {
			return fmt.Errorf("client %s: %w", clientID, err)
		}

		exists, err := s.store.Exists(ctx, model.ClientKey(clientID))
		if err != nil {
			return fmt.Errorf("failed to check client %s: %w", clientID, err)
		}

		if exists {
			tlog.App.Debug().Str("client_id", clientID).Msg("Client already registered, keeping stored record")
			continue
		}

		hash, err := hashClientSecret(secret)
		if err != nil {
			return err
		}

		clientName := cfg.Name
		if clientName == "" {
			clientName = utils.Capitalize(name)
		}

		client := model.Client{
			ClientID:         clientID,
			ClientSecretHash: hash,
			Name:             clientName,
			RedirectURIs:     cfg.RedirectURIs,
			CreatedAt:        time.Now().Unix(),
		}

		if err := store.Put(ctx, s.store, model.ClientKey(clientID), client, 0); err != nil {
			return fmt.Errorf("failed to store client %s: %w", clientID, err)
		}

		tlog.App.Info().Str("client_id", clientID).Str("client_name", clientName).Msg("Registered client from config")
	}

	return nil
}

// Register creates a client and returns it together with its plaintext secret.
func (s *ClientService) Register(ctx context.Context, req RegisterClientRequest) (*model.Client, string, error) {
	name := strings.TrimSpace(req.Name)

	if name == "" {
		return nil, "", NewOAuthError(ErrCodeInvalidRequest, "Client name is required")
	}

	if len(req.RedirectURIs) == 0 {
		return nil, "", NewOAuthError(ErrCodeInvalidRequest, "At least one redirect URI is required")
	}

	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, "", NewOAuthError(ErrCodeInvalidRequest, err.Error())
	}

	random, err := utils.GetRandomString(61)
	if err != nil {
		return nil, "", NewServerError(err)
	}

	secret := "ec-" + random

	hash, err := hashClientSecret(secret)
	if err != nil {
		return nil, "", NewServerError(err)
	}

	client := model.Client{
		ClientID:         uuid.New().String(),
		ClientSecretHash: hash,
		Name:             name,
		RedirectURIs:     req.RedirectURIs,
		CreatedAt:        time.Now().Unix(),
	}

	if err := store.Put(ctx, s.store, model.ClientKey(client.ClientID), client, 0); err != nil {
		return nil, "", NewServerError(err)
	}

	tlog.App.Info().Str("client_id", client.ClientID).Str("client_name", client.Name).Msg("Registered client")

	return &client, secret, nil
}

func (s *ClientService) GetClient(ctx context.Context, clientID string) (*model.Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}

	var client model.Client
	err := store.Load(ctx, s.store, model.ClientKey(clientID), &client)

	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrClientNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	return &client, nil
}

func (s *ClientService) ListClients(ctx context.Context) ([]model.Client, error) {
	keys, err := s.store.Keys(ctx, model.ClientKey("*"))
	if err != nil {
		return nil, err
	}

	slices.Sort(keys)
	clients := make([]model.Client, 0, len(keys))

	for _, key := range keys {
		var client model.Client
		err := store.Load(ctx, s.store, key, &client)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	return clients, nil
}

func (s *ClientService) DeleteClient(ctx context.Context, clientID string) error {
	if _, err := s.GetClient(ctx, clientID); err != nil {
		return err
	}
	return s.store.Delete(ctx, model.ClientKey(clientID))
}

// ValidateClient checks the client secret against the stored bcrypt hash.
func (s *ClientService) ValidateClient(ctx context.Context, clientID string, secret string) (*model.Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if errors.Is(err, ErrClientNotFound) {
		return nil, NewOAuthError(ErrCodeInvalidClient, "Invalid client credentials")
	}
	if err != nil {
		return nil, NewServerError(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)); err != nil {
		return nil, NewOAuthError(ErrCodeInvalidClient, "Invalid client credentials")
	}

	return client, nil
}

func (s *ClientService) ValidateRedirectURI(client *model.Client, redirectURI string) bool {
	if redirectURI == "" {
		return false
	}

	if slices.Contains(client.RedirectURIs, redirectURI) {
		return true
	}

	if s.isDevClient(client) {
		return utils.IsLoopbackURI(redirectURI)
	}

	if len(client.RedirectURIs) == 1 && client.RedirectURIs[0] == utils.AnyRedirectURI {
		return utils.IsSecureOrLoopbackURI(redirectURI)
	}

	for _, pattern := range client.RedirectURIs {
		if utils.MatchRedirectPattern(pattern, redirectURI) {
			return true
		}
	}

	return false
}

func (s *ClientService) isDevClient(client *model.Client) bool {
	return s.config.DevClient.Enabled && s.config.DevClient.ClientID != "" && client.ClientID == s.config.DevClient.ClientID
}

func validateRedirectURIs(uris []string) error {
	if slices.Contains(uris, utils.AnyRedirectURI) && len(uris) > 1 {
		return errors.New("the * redirect URI must be the only entry")
	}

	for _, uri := range uris {
		if err := utils.ValidateRedirectPattern(uri); err != nil {
			return err
		}
	}

	return nil
}

func hashClientSecret(secret string) (string, error) {
	if strings.HasPrefix(secret, "$2") {
		if _, err := bcrypt.Cost([]byte(secret)); err == nil {
			return secret, nil
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	return string(hash), nil
}
