package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nightfall-hq/gatehouse/internal/cache"
	"github.com/nightfall-hq/gatehouse/internal/models"
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache represents a cache backend for sessions keyed by token.
type SessionCache interface {
	Get(ctx context.Context, token string) (*models.UserSession, error)
	Set(ctx context.Context, session *models.UserSession, ttl time.Duration) error
	Delete(ctx context.Context, tokens ...string) error
}

// NewStoreSessionCache wraps a shared cache.Store inside a SessionCache.
func NewStoreSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

func (c *sessionStoreCache) Get(ctx context.Context, token string) (*models.UserSession, error) {
	key := cacheKey(token)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var session models.UserSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	return &session, nil
}

func (c *sessionStoreCache) Set(ctx context.Context, session *models.UserSession, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key := cacheKey(session.ID)
	if key == "" {
		return errors.New("session cache: token missing")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	return c.store.Set(ctx, key, payload, ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, tokens ...string) error {
	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if key := cacheKey(token); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

func cacheKey(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	return sessionCacheKeyPrefix + token
}
