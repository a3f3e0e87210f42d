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
)

type IdentityServiceConfig struct {
	CacheExpiry int
}

// IdentityService resolves proof identifiers to reputation profiles through a read-through cache.
type IdentityService struct {
	config IdentityServiceConfig
	store  store.Store
	lookup ReputationLookup
}

func NewIdentityService(config IdentityServiceConfig, store store.Store, lookup ReputationLookup) *IdentityService {
	return &IdentityService{
		config: config,
		store:  store,
		lookup: lookup,
	}
}

func (s *IdentityService) Init() error {
	if s.lookup == nil {
		return errors.New("reputation lookup is not configured")
	}
	return nil
}

// Resolve returns ErrProfileNotFound when there is no linked profile and wraps
// ErrUpstream for transport or service failures. Failures are never retried here.
func (s *IdentityService) Resolve(ctx context.Context, lookupType string, identifier string) (*model.Profile, error) {
	if !slices.Contains(config.LookupTypes, lookupType) {
		return nil, NewOAuthError(ErrCodeInvalidRequest, fmt.Sprintf("Unknown lookup type %q", utils.TruncateString(lookupType, 32)))
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, NewOAuthError(ErrCodeInvalidRequest, "Missing identifier")
	}

	if lookupType == config.LookupAddress {
		identifier = strings.ToLower(identifier)
	}

	key := model.ProfileCacheKey(lookupType, identifier)

	var cached model.Profile
	err := store.Load(ctx, s.store, key, &cached)

	if err == nil {
		tlog.App.Debug().Str("lookup_type", lookupType).Str("identifier", identifier).Msg("Profile cache hit")
		return &cached, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		tlog.App.Warn().Err(err).Str("key", key).Msg("Failed to read profile cache, falling back to lookup")
	}

	profile, err := s.lookup.Lookup(ctx, lookupType, identifier)

	if errors.Is(err, ErrProfileNotFound) {
		return nil, ErrProfileNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	ttl := time.Duration(s.config.CacheExpiry) * time.Second

	if ttl > 0 {
		if err := store.Put(ctx, s.store, key, *profile, ttl); err != nil {
			tlog.App.Warn().Err(err).Str("key", key).Msg("Failed to cache profile")
		}
	}

	return profile, nil
}
