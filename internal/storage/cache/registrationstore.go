// Package cache adds read-aside Redis caching to a registration store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vssdeo/trustroots/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get fills dest or returns an error when the key is missing.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedStore decorates a push.RegistrationStore. Reads go through the
// cache; every write invalidates the user's entry.
type CachedStore struct {
	realStore push.RegistrationStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedStore(realStore push.RegistrationStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedRegistrationStore"),
	}
}

func (s *CachedStore) Get(ctx context.Context, userID string) (*push.User, error) {
	key := cacheKey(userID)

	var cached push.User
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a Redis outage only costs a DB read.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Debug("cache populate failed", "user", userID, "err", err)
	}
	return fresh, nil
}

func (s *CachedStore) Add(ctx context.Context, userID string, r push.Registration) (*push.User, error) {
	user, err := s.realStore.Add(ctx, userID, r)
	if err != nil {
		return nil, err
	}
	return user, s.invalidate(ctx, userID)
}

// Remove must clear the cache even on success so a disabled device stops
// receiving pushes immediately.
func (s *CachedStore) Remove(ctx context.Context, userID string, token string) (*push.User, error) {
	user, err := s.realStore.Remove(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	return user, s.invalidate(ctx, userID)
}

func (s *CachedStore) invalidate(ctx context.Context, userID string) error {
	if err := s.cache.Del(ctx, cacheKey(userID)); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return "push:registrations:" + userID
}
