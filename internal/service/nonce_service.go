package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils"
)

type NonceServiceConfig struct {
	NonceExpiry     int
	ChallengeExpiry int
}

// NonceService issues and consumes single-use SIWE nonces and passkey challenges.
type NonceService struct {
	config NonceServiceConfig
	store  store.Store
}

func NewNonceService(config NonceServiceConfig, store store.Store) *NonceService {
	return &NonceService{
		config: config,
		store:  store,
	}
}

func (s *NonceService) Init() error {
	if s.config.NonceExpiry <= 0 || s.config.ChallengeExpiry <= 0 {
		return errors.New("nonce and challenge expiry must be positive")
	}
	return nil
}

func (s *NonceService) IssueNonce(ctx context.Context) (*model.Nonce, error) {
	value, err := utils.GetRandomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ttl := time.Duration(s.config.NonceExpiry) * time.Second
	now := time.Now()

	nonce := model.Nonce{
		Value:     value,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	if err := store.Put(ctx, s.store, model.NonceKey(value), nonce, ttl); err != nil {
		return nil, fmt.Errorf("failed to store nonce: %w", err)
	}

	return &nonce, nil
}

// ConsumeNonce removes the nonce. Missing, expired and already used nonces are all invalid_grant.
func (s *NonceService) ConsumeNonce(ctx context.Context, value string) error {
	if value == "" {
		return NewOAuthError(ErrCodeInvalidGrant, "Nonce is missing")
	}

	var nonce model.Nonce
	err := store.Take(ctx, s.store, model.NonceKey(value), &nonce)

	if errors.Is(err, store.ErrNotFound) {
		return NewOAuthError(ErrCodeInvalidGrant, "Nonce is invalid, expired or already used")
	}

	if err != nil {
		return NewServerError(err)
	}

	return nil
}

func (s *NonceService) IssueChallenge(ctx context.Context, challengeType model.ChallengeType, challenge string, userID string, request string, session any) (*model.Challenge, error) {
	id, err := utils.GetRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge id: %w", err)
	}

	rawSession, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge session: %w", err)
	}

	ttl := time.Duration(s.config.ChallengeExpiry) * time.Second

	record := model.Challenge{
		ID:        id,
		Challenge: challenge,
		Type:      challengeType,
		UserID:    userID,
		Request:   request,
		Session:   rawSession,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}

	if err := store.Put(ctx, s.store, model.ChallengeKey(id), record, ttl); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return &record, nil
}

// ConsumeChallenge removes the challenge. A challenge of the wrong type is still consumed.
func (s *NonceService) ConsumeChallenge(ctx context.Context, id string, challengeType model.ChallengeType) (*model.Challenge, error) {
	if id == "" {
		return nil, NewOAuthError(ErrCodeInvalidGrant, "Challenge is missing")
	}

	var challenge model.Challenge
	err := store.Take(ctx, s.store, model.ChallengeKey(id), &challenge)

	if errors.Is(err, store.ErrNotFound) {
		return nil, NewOAuthError(ErrCodeInvalidGrant, "Challenge is invalid, expired or already used")
	}

	if err != nil {
		return nil, NewServerError(err)
	}

	if challenge.Type != challengeType {
		return nil, NewOAuthError(ErrCodeInvalidGrant, "Challenge type mismatch")
	}

	return &challenge, nil
}
