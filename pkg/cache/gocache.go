package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// goCacheWrapper adapts patrickmn/go-cache. It has real per entry TTLs but no
// size bound.
type goCacheWrapper struct {
	cache *gocache.Cache
}

func NewGoCache(config LocalConfig) Cache {
	def := config.DefaultExpiration
	if def <= 0 {
		def = 5 * time.Minute
	}
	cleanup := config.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &goCacheWrapper{cache: gocache.New(def, cleanup)}
}

func (gc *goCacheWrapper) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, found := gc.cache.Get(key); found {
		return value.([]byte), true
	}
	return nil, false
}

func (gc *goCacheWrapper) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = gocache.DefaultExpiration
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	gc.cache.Set(key, stored, expiration)
	return nil
}

func (gc *goCacheWrapper) Delete(ctx context.Context, key string) error {
	gc.cache.Delete(key)
	return nil
}

func (gc *goCacheWrapper) Exists(ctx context.Context, key string) bool {
	_, found := gc.cache.Get(key)
	return found
}

func (gc *goCacheWrapper) Clear(ctx context.Context) error {
	gc.cache.Flush()
	return nil
}

func (gc *goCacheWrapper) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	value, expiration, found := gc.cache.GetWithExpiration(key)
	if !found {
		return nil, 0, false
	}
	var ttl time.Duration
	if !expiration.IsZero() {
		ttl = time.Until(expiration)
	}
	return value.([]byte), ttl, true
}

func (gc *goCacheWrapper) Close() error {
	gc.cache.Flush()
	return nil
}
