package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// localCache is a size bounded LRU. The LRU's own TTL is the default
// expiration; shorter per entry TTLs are checked on read.
type localCache struct {
	lru        *expirable.LRU[string, localEntry]
	defaultTTL time.Duration
	closed     atomic.Bool
}

func NewLocalCache(config LocalConfig) Cache {
	size := config.MaxSize
	if size <= 0 {
		size = 10000
	}
	ttl := config.DefaultExpiration
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &localCache{
		lru:        expirable.NewLRU[string, localEntry](size, nil, ttl),
		defaultTTL: ttl,
	}
}

func (lc *localCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, _, ok := lc.GetWithTTL(ctx, key)
	return v, ok
}

func (lc *localCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if lc.closed.Load() {
		return ErrClosed
	}
	if expiration <= 0 || expiration > lc.defaultTTL {
		expiration = lc.defaultTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	lc.lru.Add(key, localEntry{value: stored, expiresAt: time.Now().Add(expiration)})
	return nil
}

func (lc *localCache) Delete(ctx context.Context, key string) error {
	lc.lru.Remove(key)
	return nil
}

func (lc *localCache) Exists(ctx context.Context, key string) bool {
	_, ok := lc.Get(ctx, key)
	return ok
}

func (lc *localCache) Clear(ctx context.Context) error {
	lc.lru.Purge()
	return nil
}

func (lc *localCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	if lc.closed.Load() {
		return nil, 0, false
	}
	e, ok := lc.lru.Get(key)
	if !ok {
		return nil, 0, false
	}
	ttl := time.Until(e.expiresAt)
	if ttl <= 0 {
		lc.lru.Remove(key)
		return nil, 0, false
	}
	return e.value, ttl, true
}

func (lc *localCache) Close() error {
	lc.closed.Store(true)
	lc.lru.Purge()
	return nil
}

// Len reports the number of live entries.
func (lc *localCache) Len() int {
	return lc.lru.Len()
}
