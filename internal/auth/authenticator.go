package auth

import (
	"context"
	"sync"
	"time"

	"fleet-safety/monitor/internal/config"
)

// KeyLookup resolves an API key to a vehicle or fleet identifier. The Redis
// store implements it; tests use a map-backed fake.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	subject   string
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
}

// NewAuthenticator builds a three-level key validator: static config keys,
// an in-memory TTL cache, then the backing lookup. lookup may be nil, in
// which case only static keys validate.
func NewAuthenticator(cfg *config.Config, lookup KeyLookup) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
	}
}

func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: backing lookup
	if a.lookup == nil {
		return false
	}
	subject, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil || subject == "" {
		return false
	}

	a.localCache.Store(apiKey, cacheEntry{
		subject:   subject,
		expiresAt: time.Now().Add(a.ttl),
	})

	return true
}
