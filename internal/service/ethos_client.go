package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/model"
)

// ReputationLookup fetches a profile by provider typed identifier. It returns
// ErrProfileNotFound when the identifier has no linked profile.
type ReputationLookup interface {
	Lookup(ctx context.Context, lookupType string, identifier string) (*model.Profile, error)
}

type EthosClientConfig struct {
	APIURL     string
	ClientName string
	Timeout    time.Duration
}

type ethosUserResponse struct {
	ID          int      `json:"id"`
	ProfileID   *int     `json:"profileId"`
	DisplayName string   `json:"displayName"`
	Username    string   `json:"username"`
	AvatarURL   string   `json:"avatarUrl"`
	Score       int      `json:"score"`
	Status      string   `json:"status"`
	Userkeys    []string `json:"userkeys"`
}

type EthosClient struct {
	config     EthosClientConfig
	httpClient *http.Client
}

func NewEthosClient(config EthosClientConfig) *EthosClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &EthosClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (c *EthosClient) Lookup(ctx context.Context, lookupType string, identifier string) (*model.Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v2/user/by/%s/%s",
		strings.TrimSuffix(c.config.APIURL, "/"),
		url.PathEscape(lookupType),
		url.PathEscape(identifier))

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.config.ClientName != "" {
		req.Header.Set("X-Ethos-Client", c.config.ClientName)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read lookup response: %w", err)
	}

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrProfileNotFound
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("lookup failed with status: %s", res.Status)
	}

	var user ethosUserResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}

	// Users without a profile have no reputation to attach
	if user.ProfileID == nil {
		return nil, ErrProfileNotFound
	}

	attestations := user.Userkeys
	if attestations == nil {
		attestations = []string{}
	}

	return &model.Profile{
		ProfileID:    *user.ProfileID,
		DisplayName:  user.DisplayName,
		Username:     user.Username,
		AvatarURL:    user.AvatarURL,
		Score:        user.Score,
		Status:       user.Status,
		Attestations: attestations,
	}, nil
}
