package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

// PasskeyUser is the credential owner as seen by the ceremony verifier.
type PasskeyUser struct {
	ID          string
	Name        string
	Credentials []model.Credential
}

func (u *PasskeyUser) WebAuthnID() []byte {
	return []byte(u.ID)
}

func (u *PasskeyUser) WebAuthnName() string {
	return u.Name
}

func (u *PasskeyUser) WebAuthnDisplayName() string {
	return u.Name
}

func (u *PasskeyUser) WebAuthnIcon() string {
	return ""
}

func (u *PasskeyUser) WebAuthnCredentials() []webauthn.Credential {
	credentials := make([]webauthn.Credential, 0, len(u.Credentials))
	for _, c := range u.Credentials {
		credentials = append(credentials, toWebAuthnCredential(c))
	}
	return credentials
}

// Ceremony is a started registration or authentication.
type Ceremony struct {
	Options   any
	Challenge string
	Session   any
}

// VerifiedAssertion is the outcome of a successful authentication ceremony.
type VerifiedAssertion struct {
	CredentialID []byte
	SignCount    uint32
	UserVerified bool
	BackupState  bool
}

type CredentialLookup func(credentialID []byte, userHandle []byte) (*PasskeyUser, error)

// PasskeyVerifier performs the WebAuthn cryptography.
type PasskeyVerifier interface {
	BeginRegistration(user *PasskeyUser) (*Ceremony, error)
	FinishRegistration(user *PasskeyUser, session json.RawMessage, response []byte) (*model.Credential, error)
	BeginLogin() (*Ceremony, error)
	FinishLogin(session json.RawMessage, response []byte, lookup CredentialLookup) (*VerifiedAssertion, error)
}

type WebAuthnVerifierConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

type WebAuthnVerifier struct {
	config   WebAuthnVerifierConfig
	webauthn *webauthn.WebAuthn
}

func NewWebAuthnVerifier(config WebAuthnVerifierConfig) *WebAuthnVerifier {
	return &WebAuthnVerifier{
		config: config,
	}
}

func (v *WebAuthnVerifier) Init() error {
	w, err := webauthn.New(&webauthn.Config{
		RPID:          v.config.RPID,
		RPDisplayName: v.config.RPDisplayName,
		RPOrigins:     v.config.RPOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize webauthn: %w", err)
	}
	v.webauthn = w
	return nil
}

func (v *WebAuthnVerifier) BeginRegistration(user *PasskeyUser) (*Ceremony, error) {
	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.Credentials))
	for _, c := range user.WebAuthnCredentials() {
		exclusions = append(exclusions, c.Descriptor())
	}

	options, session, err := v.webauthn.BeginRegistration(user,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		return nil, err
	}

	return &Ceremony{
		Options:   options,
		Challenge: session.Challenge,
		Session:   session,
	}, nil
}

func (v *WebAuthnVerifier) FinishRegistration(user *PasskeyUser, rawSession json.RawMessage, response []byte) (*model.Credential, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(rawSession, &session); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, err
	}

	credential, err := v.webauthn.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, err
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}

	return &model.Credential{
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		Algorithm:       publicKeyAlgorithm(credential.PublicKey),
		Counter:         credential.Authenticator.SignCount,
		UserID:          user.ID,
		Transports:      transports,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		UserPresent:     credential.Flags.UserPresent,
		UserVerified:    credential.Flags.UserVerified,
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
	}, nil
}

func (v *WebAuthnVerifier) BeginLogin() (*Ceremony, error) {
	options, session, err := v.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, err
	}

	return &Ceremony{
		Options:   options,
		Challenge: session.Challenge,
		Session:   session,
	}, nil
}

func (v *WebAuthnVerifier) FinishLogin(rawSession json.RawMessage, response []byte, lookup CredentialLookup) (*VerifiedAssertion, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(rawSession, &session); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, err
	}

	handler := func(rawID []byte, userHandle []byte) (webauthn.User, error) {
		return lookup(rawID, userHandle)
	}

	credential, err := v.webauthn.ValidateDiscoverableLogin(handler, session, parsed)
	if err != nil {
		return nil, err
	}

	return &VerifiedAssertion{
		CredentialID: credential.ID,
		SignCount:    credential.Authenticator.SignCount,
		UserVerified: credential.Flags.UserVerified,
		BackupState:  credential.Flags.BackupState,
	}, nil
}

func publicKeyAlgorithm(publicKey []byte) int64 {
	key, err := webauthncose.ParsePublicKey(publicKey)
	if err != nil {
		return 0
	}

	switch k := key.(type) {
	case webauthncose.EC2PublicKeyData:
		return k.Algorithm
	case webauthncose.OKPPublicKeyData:
		return k.Algorithm
	case webauthncose.RSAPublicKeyData:
		return k.Algorithm
	}

	return 0
}

func toWebAuthnCredential(c model.Credential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.UserPresent,
			UserVerified:   c.UserVerified,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.Counter,
		},
	}
}

func EncodeCredentialID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

type PasskeyOptions struct {
	ChallengeID string `json:"challengeId"`
	Options     any    `json:"options"`
}

type PasskeyVerifyRequest struct {
	ChallengeID string          `json:"challengeId" binding:"required"`
	Request     string          `json:"request"`
	Response    json.RawMessage `json:"response" binding:"required"`
}

type PasskeyLogin struct {
	UserID       string
	CredentialID string
	Request      string
}

// PasskeyService runs WebAuthn ceremonies against stored challenges and credentials.
type PasskeyService struct {
	store    store.Store
	nonces   *NonceService
	verifier PasskeyVerifier
}

func NewPasskeyService(store store.Store, nonces *NonceService, verifier PasskeyVerifier) *PasskeyService {
	return &PasskeyService{
		store:    store,
		nonces:   nonces,
		verifier: verifier,
	}
}

func (s *PasskeyService) Init() error {
	if s.verifier == nil {
		return errors.New("passkey verifier is required")
	}
	if v, ok := s.verifier.(interface{ Init() error }); ok {
		return v.Init()
	}
	return nil
}

// BeginRegistration starts a registration ceremony for an authenticated user.
func (s *PasskeyService) BeginRegistration(ctx context.Context, userID string, name string) (*PasskeyOptions, error) {
	if userID == "" {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Missing user")
	}

	user, err := s.loadUser(ctx, userID, name)
	if err != nil {
		return nil, NewServerError(err)
	}

	ceremony, err := s.verifier.BeginRegistration(user)
	if err != nil {
		return nil, NewServerError(err)
	}

	challenge, err := s.nonces.IssueChallenge(ctx, model.ChallengeRegistration, ceremony.Challenge, userID, "", ceremony.Session)
	if err != nil {
		return nil, NewServerError(err)
	}

	return &PasskeyOptions{
		ChallengeID: challenge.ID,
		Options:     ceremony.Options,
	}, nil
}

// FinishRegistration consumes the registration challenge and stores the new credential.
func (s *PasskeyService) FinishRegistration(ctx context.Context, req PasskeyVerifyRequest) (*model.Credential, error) {
	challenge, err := s.nonces.ConsumeChallenge(ctx, req.ChallengeID, model.ChallengeRegistration)
	if err != nil {
		return nil, err
	}

	user, err := s.loadUser(ctx, challenge.UserID, challenge.UserID)
	if err != nil {
		return nil, NewServerError(err)
	}

	credential, err := s.verifier.FinishRegistration(user, challenge.Session, req.Response)
	if err != nil {
		tlog.App.Debug().Err(err).Msg("Passkey registration verification failed")
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Passkey registration could not be verified")
	}

	encodedID := EncodeCredentialID(credential.CredentialID)

	credential.UserID = challenge.UserID
	credential.CreatedAt = time.Now().Unix()

	stored, err := store.PutIfAbsent(ctx, s.store, model.CredentialKey(encodedID), *credential, 0)
	if err != nil {
		return nil, NewServerError(err)
	}

	if !stored {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Credential is already registered")
	}

	if err := s.indexCredential(ctx, challenge.UserID, encodedID); err != nil {
		return nil, NewServerError(err)
	}

	tlog.App.Info().Str("user_id", challenge.UserID).Str("credential_id", encodedID).Msg("Registered passkey")

	return credential, nil
}

// BeginLogin starts a discoverable authentication ceremony, optionally bound to an authorization request.
func (s *PasskeyService) BeginLogin(ctx context.Context, request string) (*PasskeyOptions, error) {
	ceremony, err := s.verifier.BeginLogin()
	if err != nil {
		return nil, NewServerError(err)
	}

	challenge, err := s.nonces.IssueChallenge(ctx, model.ChallengeAuthentication, ceremony.Challenge, "", request, ceremony.Session)
	if err != nil {
		return nil, NewServerError(err)
	}

	return &PasskeyOptions{
		ChallengeID: challenge.ID,
		Options:     ceremony.Options,
	}, nil
}

// FinishLogin consumes the authentication challenge, verifies the assertion
// and advances the stored signature counter.
func (s *PasskeyService) FinishLogin(ctx context.Context, req PasskeyVerifyRequest) (*PasskeyLogin, error) {
	challenge, err := s.nonces.ConsumeChallenge(ctx, req.ChallengeID, model.ChallengeAuthentication)
	if err != nil {
		return nil, err
	}

	var stored model.Credential
	var previous []byte

	lookup := func(credentialID []byte, userHandle []byte) (*PasskeyUser, error) {
		raw, err := store.LoadRaw(ctx, s.store, model.CredentialKey(EncodeCredentialID(credentialID)), &stored)
		if err != nil {
			return nil, err
		}
		previous = raw
		if len(userHandle) > 0 && string(userHandle) != stored.UserID {
			return nil, errors.New("user handle does not match credential owner")
		}
		return &PasskeyUser{
			ID:          stored.UserID,
			Name:        stored.UserID,
			Credentials: []model.Credential{stored},
		}, nil
	}

	assertion, err := s.verifier.FinishLogin(challenge.Session, req.Response, lookup)
	if err != nil {
		tlog.App.Debug().Err(err).Msg("Passkey assertion verification failed")
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Passkey could not be verified")
	}

	if !bytes.Equal(assertion.CredentialID, stored.CredentialID) {
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Passkey could not be verified")
	}

	if !counterAdvances(stored.Counter, assertion.SignCount) {
		tlog.App.Warn().Str("user_id", stored.UserID).Uint32("stored", stored.Counter).Uint32("received", assertion.SignCount).Msg("Passkey signature counter did not increase, possible cloned authenticator")
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Passkey signature counter did not increase")
	}

	encodedID := EncodeCredentialID(stored.CredentialID)

	stored.Counter = max(stored.Counter, assertion.SignCount)
	stored.UserVerified = assertion.UserVerified
	stored.BackupState = assertion.BackupState
	stored.LastUsedAt = time.Now().Unix()

	// The swap fails if another login advanced the counter since it was read.
	swapped, err := store.Swap(ctx, s.store, model.CredentialKey(encodedID), previous, stored)
	if err != nil {
		return nil, NewServerError(err)
	}

	if !swapped {
		tlog.App.Warn().Str("user_id", stored.UserID).Str("credential_id", encodedID).Msg("Concurrent passkey assertion lost the counter update")
		return nil, NewOAuthError(ErrCodeInvalidAuth, "Passkey signature counter did not increase")
	}

	request := challenge.Request
	if request == "" {
		request = req.Request
	}

	return &PasskeyLogin{
		UserID:       stored.UserID,
		CredentialID: encodedID,
		Request:      request,
	}, nil
}

// ListCredentials returns the credentials registered by a user.
func (s *PasskeyService) ListCredentials(ctx context.Context, userID string) ([]model.Credential, error) {
	var index model.CredentialIndex
	err := store.Load(ctx, s.store, model.CredentialIndexKey(userID), &index)

	if errors.Is(err, store.ErrNotFound) {
		return []model.Credential{}, nil
	}

	if err != nil {
		return nil, err
	}

	credentials := make([]model.Credential, 0, len(index.CredentialIDs))

	for _, id := range index.CredentialIDs {
		var credential model.Credential
		err := store.Load(ctx, s.store, model.CredentialKey(id), &credential)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}

	return credentials, nil
}

func (s *PasskeyService) loadUser(ctx context.Context, userID string, name string) (*PasskeyUser, error) {
	credentials, err := s.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &PasskeyUser{
		ID:          userID,
		Name:        name,
		Credentials: credentials,
	}, nil
}

const maxIndexRetries = 8

func (s *PasskeyService) indexCredential(ctx context.Context, userID string, encodedID string) error {
	key := model.CredentialIndexKey(userID)

	for range maxIndexRetries {
		var index model.CredentialIndex
		previous, err := store.LoadRaw(ctx, s.store, key, &index)

		if errors.Is(err, store.ErrNotFound) {
			ok, err := store.PutIfAbsent(ctx, s.store, key, model.CredentialIndex{
				UserID:        userID,
				CredentialIDs: []string{encodedID},
			}, 0)
			if err != nil || ok {
				return err
			}
			continue
		}

		if err != nil {
			return err
		}

		if slices.Contains(index.CredentialIDs, encodedID) {
			return nil
		}

		index.UserID = userID
		index.CredentialIDs = append(index.CredentialIDs, encodedID)

		ok, err := store.Swap(ctx, s.store, key, previous, index)
		if err != nil || ok {
			return err
		}
	}

	return fmt.Errorf("credential index for %s kept changing", userID)
}

// counterAdvances reports whether a received signature counter is acceptable.
// Authenticators that do not implement counters always report zero.
func counterAdvances(stored uint32, received uint32) bool {
	if stored == 0 && received == 0 {
		return true
	}
	return received > stored
}

// PasskeyOrigins derives the default relying party origins from the app URL.
func PasskeyOrigins(appURL string) []string {
	u, err := url.Parse(appURL)
	if err != nil || u.Host == "" {
		return []string{}
	}
	return []string{u.Scheme + "://" + u.Host}
}
