package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/store"
	"github.com/trust-ethos/ethos-connect/internal/utils"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/cenkalti/backoff/v5"
	"github.com/spruceid/siwe-go"
)

var ErrRelayPending = errors.New("relay channel pending")

type FarcasterRelayServiceConfig struct {
	RelayURL      string
	Domain        string
	SiweURI       string
	Timeout       time.Duration
	PollAttempts  int
	PollInterval  time.Duration
	ChannelExpiry int
}

type relayChannelRequest struct {
	SiweURI string `json:"siweUri"`
	Domain  string `json:"domain"`
	Nonce   string `json:"nonce"`
}

type relayChannelResponse struct {
	ChannelToken string `json:"channelToken"`
	URL          string `json:"url"`
	Nonce        string `json:"nonce"`
}

type relayStatusResponse struct {
	State     string `json:"state"`
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	FID       int64  `json:"fid"`
	Username  string `json:"username"`
}

type RelayStatus struct {
	Completed    bool
	FID          string
	Username     string
	RequestToken string
}

// FarcasterRelayService drives the QR relay sign-in flow.
type FarcasterRelayService struct {
	config     FarcasterRelayServiceConfig
	store      store.Store
	httpClient *http.Client
}

func NewFarcasterRelayService(config FarcasterRelayServiceConfig, store store.Store) *FarcasterRelayService {
	return &FarcasterRelayService{
		config: config,
		store:  store,
		httpClient: &http.Client{
			Timeout: providerTimeout(config.Timeout),
		},
	}
}

func (s *FarcasterRelayService) Init() error {
	if s.config.RelayURL == "" {
		return errors.New("farcaster relay url is required")
	}
	if s.config.PollAttempts <= 0 {
		return errors.New("farcaster poll attempts must be positive")
	}
	if s.config.ChannelExpiry <= 0 {
		return errors.New("farcaster channel expiry must be positive")
	}
	return nil
}

// CreateChannel opens a relay channel, optionally bound to an authorization request.
func (s *FarcasterRelayService) CreateChannel(ctx context.Context, requestToken string) (*model.RelayChannel, error) {
	nonce, err := utils.GetRandomHex(32)
	if err != nil {
		return nil, NewServerError(err)
	}

	body, err := json.Marshal(relayChannelRequest{
		SiweURI: s.config.SiweURI,
		Domain:  s.config.Domain,
		Nonce:   nonce,
	})
	if err != nil {
		return nil, NewServerError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/v1/channel"), bytes.NewReader(body))
	if err != nil {
		return nil, NewServerError(err)
	}

	req.Header.Set("Content-Type", "application/json")

	var channelRes relayChannelResponse
	status, err := s.do(req, &channelRes)
	if err != nil {
		return nil, NewServerError(fmt.Errorf("%w: %w", ErrUpstream, err))
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return nil, NewServerError(fmt.Errorf("%w: relay returned status %d", ErrUpstream, status))
	}

	if channelRes.ChannelToken == "" || channelRes.URL == "" {
		return nil, NewServerError(fmt.Errorf("%w: relay returned an incomplete channel", ErrUpstream))
	}

	if channelRes.Nonce != "" && channelRes.Nonce != nonce {
		return nil, NewServerError(fmt.Errorf("%w: relay changed the channel nonce", ErrUpstream))
	}

	ttl := time.Duration(s.config.ChannelExpiry) * time.Second
	now := time.Now()

	channel := model.RelayChannel{
		ChannelToken: channelRes.ChannelToken,
		Nonce:        nonce,
		RequestToken: requestToken,
		URL:          channelRes.URL,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(ttl).Unix(),
	}

	if err := store.Put(ctx, s.store, model.RelayChannelKey(channel.ChannelToken), channel, ttl); err != nil {
		return nil, NewServerError(err)
	}

	tlog.App.Debug().Str("channel", utils.TruncateString(channel.ChannelToken, 8)).Msg("Created relay channel")

	return &channel, nil
}

// Poll checks the channel once. Each call counts against the attempt budget
// and the channel is consumed when the relay reports completion.
func (s *FarcasterRelayService) Poll(ctx context.Context, channelToken string) (*RelayStatus, error) {
	if channelToken == "" {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Missing channel")
	}

	key := model.RelayChannelKey(channelToken)

	channel, err := s.countAttempt(ctx, channelToken)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/v1/channel/status"), nil)
	if err != nil {
		return nil, NewServerError(err)
	}

	req.Header.Set("Authorization", "Bearer "+channelToken)

	var statusRes relayStatusResponse
	status, err := s.do(req, &statusRes)
	if err != nil {
		return nil, NewServerError(fmt.Errorf("%w: %w", ErrUpstream, err))
	}

	if status == http.StatusAccepted || (status == http.StatusOK && statusRes.State != "completed") {
		return &RelayStatus{Completed: false, RequestToken: channel.RequestToken}, nil
	}

	if status != http.StatusOK {
		return nil, NewServerError(fmt.Errorf("%w: relay returned status %d", ErrUpstream, status))
	}

	if err := s.verifyCompletion(*channel, statusRes); err != nil {
		return nil, err
	}

	var consumed model.RelayChannel
	err = store.Take(ctx, s.store, key, &consumed)

	if errors.Is(err, store.ErrNotFound) {
		return nil, NewOAuthError(ErrCodeInvalidGrant, "Relay channel was already used")
	}

	if err != nil {
		return nil, NewServerError(err)
	}

	return &RelayStatus{
		Completed:    true,
		FID:          strconv.FormatInt(statusRes.FID, 10),
		Username:     statusRes.Username,
		RequestToken: channel.RequestToken,
	}, nil
}

// countAttempt spends one poll attempt. Concurrent polls race on a
// compare-and-swap so every attempt is counted exactly once. A lost swap means
// another poll spent an attempt, so the loop is bounded by the budget.
func (s *FarcasterRelayService) countAttempt(ctx context.Context, channelToken string) (*model.RelayChannel, error) {
	key := model.RelayChannelKey(channelToken)

	for range s.config.PollAttempts + 1 {
		var channel model.RelayChannel
		previous, err := store.LoadRaw(ctx, s.store, key, &channel)

		if errors.Is(err, store.ErrNotFound) {
			return nil, NewOAuthError(ErrCodeInvalidGrant, "Relay channel is invalid, expired or already used")
		}

		if err != nil {
			return nil, NewServerError(err)
		}

		if channel.Attempts >= s.config.PollAttempts || !time.Now().Before(time.Unix(channel.ExpiresAt, 0)) {
			if err := s.store.Delete(ctx, key); err != nil {
				tlog.App.Warn().Err(err).Msg("Failed to delete exhausted relay channel")
			}
			return nil, NewOAuthError(ErrCodeAuthExpired, "Relay channel expired")
		}

		channel.Attempts++

		swapped, err := store.Swap(ctx, s.store, key, previous, channel)
		if err != nil {
			return nil, NewServerError(err)
		}

		if swapped {
			return &channel, nil
		}
	}

	return nil, NewServerError(fmt.Errorf("relay channel %s is contended", utils.TruncateString(channelToken, 8)))
}

func (s *FarcasterRelayService) verifyCompletion(channel model.RelayChannel, statusRes relayStatusResponse) error {
	if statusRes.FID <= 0 {
		return NewOAuthError(ErrCodeInvalidAuth, "Relay completion has no fid")
	}

	if statusRes.Nonce != channel.Nonce {
		return NewOAuthError(ErrCodeInvalidAuth, "Relay nonce mismatch")
	}

	message, err := siwe.ParseMessage(statusRes.Message)
	if err != nil {
		return NewOAuthError(ErrCodeInvalidAuth, "Relay returned a malformed sign-in message")
	}

	if message.GetNonce() != channel.Nonce {
		return NewOAuthError(ErrCodeInvalidAuth, "Relay nonce mismatch")
	}

	if s.config.Domain != "" && !strings.EqualFold(message.GetDomain(), s.config.Domain) {
		return NewOAuthError(ErrCodeInvalidAuth, "Relay message was issued for another domain")
	}

	if _, err := message.VerifyEIP191(statusRes.Signature); err != nil {
		tlog.App.Debug().Err(err).Msg("Relay signature verification failed")
		return NewOAuthError(ErrCodeInvalidAuth, "Invalid relay signature")
	}

	return nil
}

// AwaitCompletion polls until the channel completes or the attempt budget runs out.
func (s *FarcasterRelayService) AwaitCompletion(ctx context.Context, channelToken string) (*RelayStatus, error) {
	operation := func() (*RelayStatus, error) {
		status, err := s.Poll(ctx, channelToken)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !status.Completed {
			return nil, ErrRelayPending
		}
		return status, nil
	}

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.config.PollInterval)),
		backoff.WithMaxTries(uint(s.config.PollAttempts)+1),
	)
	if errors.Is(err, ErrRelayPending) {
		return nil, NewOAuthError(ErrCodeAuthExpired, "Relay channel expired")
	}

	return status, err
}

func (s *FarcasterRelayService) endpoint(path string) string {
	return strings.TrimSuffix(s.config.RelayURL, "/") + path
}

func (s *FarcasterRelayService) do(req *http.Request, v any) (int, error) {
	req.Header.Set("Accept", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, err
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return res.StatusCode, err
		}
	}

	return res.StatusCode, nil
}
