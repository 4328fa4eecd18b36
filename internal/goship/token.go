package goship

import (
	"context"
	"sync"
	"time"
)

// TokenFunc fetches a fresh bearer token, returning the token and its
// lifetime.
type TokenFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache hands out a cached bearer token and refreshes it through fetch
// when it is missing or about to expire. Safe for concurrent use.
type TokenCache struct {
	mu        sync.Mutex
	fetch     TokenFunc
	token     string
	expiresAt time.Time

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// refreshMargin is subtracted from the token lifetime so a token is never
// used right at its expiry edge.
const refreshMargin = 60 * time.Second

// NewTokenCache creates a token cache around fetch.
func NewTokenCache(fetch TokenFunc) *TokenCache {
	return &TokenCache{fetch: fetch, now: time.Now}
}

// Get returns a valid token, refreshing it if needed.
func (tc *TokenCache) Get(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := tc.now()
	if tc.token != "" && now.Before(tc.expiresAt) {
		return tc.token, nil
	}

	token, expiresIn, err := tc.fetch(ctx)
	if err != nil {
		return "", err
	}

	tc.token = token
	tc.expiresAt = now.Add(expiresIn - refreshMargin)
	return token, nil
}
