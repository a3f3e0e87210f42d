package service

import (
	"context"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spruceid/siwe-go"
)

type WalletServiceConfig struct {
	Domain string
	Now    func() time.Time
}

type WalletProof struct {
	Message     string `json:"message" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
	Address     string `json:"address" binding:"required"`
	Request     string `json:"request"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
}

// WalletService verifies EIP-4361 sign-in messages.
type WalletService struct {
	config WalletServiceConfig
	nonces *NonceService
}

func NewWalletService(config WalletServiceConfig, nonces *NonceService) *WalletService {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &WalletService{
		config: config,
		nonces: nonces,
	}
}

func (s *WalletService) Init() error {
	if s.config.Domain == "" {
		tlog.App.Warn().Msg("Wallet domain is not configured, sign-in messages for any domain are accepted")
	}
	return nil
}

// Verify checks the signed message and returns the lower-cased wallet address.
// The nonce is consumed before the signature is checked so a message can
// never be replayed, even after a failed attempt.
func (s *WalletService) Verify(ctx context.Context, proof WalletProof) (string, error) {
	if !common.IsHexAddress(proof.Address) {
		return "", NewOAuthError(ErrCodeInvalidRequest, "Invalid wallet address")
	}

	message, err := siwe.ParseMessage(proof.Message)
	if err != nil {
		return "", NewOAuthError(ErrCodeInvalidRequest, "Malformed sign-in message")
	}

	expiration := message.GetExpirationTime()
	if expiration == nil || *expiration == "" {
		return "", NewOAuthError(ErrCodeInvalidRequest, "Sign-in message has no expiration time")
	}

	expiresAt, err := time.Parse(time.RFC3339, *expiration)
	if err != nil {
		return "", NewOAuthError(ErrCodeInvalidRequest, "Invalid expiration time")
	}

	if err := s.nonces.ConsumeNonce(ctx, message.GetNonce()); err != nil {
		return "", err
	}

	if _, err := message.VerifyEIP191(proof.Signature); err != nil {
		tlog.App.Debug().Err(err).Msg("Signature verification failed")
		return "", NewOAuthError(ErrCodeInvalidAuth, "Invalid signature")
	}

	messageAddress := message.GetAddress()
	if !strings.EqualFold(messageAddress.Hex(), proof.Address) {
		return "", NewOAuthError(ErrCodeInvalidAuth, "Address does not match the signed message")
	}

	if !s.config.Now().Before(expiresAt) {
		return "", NewOAuthError(ErrCodeAuthExpired, "Sign-in message has expired")
	}

	if s.config.Domain != "" && !strings.EqualFold(message.GetDomain(), s.config.Domain) {
		return "", NewOAuthError(ErrCodeInvalidAuth, "Sign-in message was issued for another domain")
	}

	return strings.ToLower(messageAddress.Hex()), nil
}
