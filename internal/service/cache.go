package service

import (
	"context"
	"sync"
	"time"

	"flagplane/internal/repository"
)

type apiKeyEntry struct {
	valid   bool
	expires time.Time
}

// APIKeyCache memoizes SDK key lookups for ttl, so long-lived SDK streams
// reconnecting in bulk do not hammer the database. Negative results are
// cached too.
type APIKeyCache struct {
	mu   sync.RWMutex
	repo repository.SDKRepository
	data map[string]apiKeyEntry
	ttl  time.Duration
	now  func() time.Time
}

func NewAPIKeyCache(repo repository.SDKRepository, ttl time.Duration) *APIKeyCache {
	return &APIKeyCache{
		repo: repo,
		data: make(map[string]apiKeyEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (c *APIKeyCache) ValidateAPIKey(ctx context.Context, apiKey, env string) (bool, error) {
	k := apiKey + "\x00" + env
	now := c.now()

	c.mu.RLock()
	e, ok := c.data[k]
	c.mu.RUnlock()
	if ok && now.Before(e.expires) {
		return e.valid, nil
	}

	valid, err := c.repo.ValidateAPIKey(ctx, apiKey, env)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[k] = apiKeyEntry{valid: valid, expires: now.Add(c.ttl)}
	// expired entries are swept on write; the map holds at most the keys
	// seen within one ttl
	for key, entry := range c.data {
		if !now.Before(entry.expires) {
			delete(c.data, key)
		}
	}
	return valid, nil
}
