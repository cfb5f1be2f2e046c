package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NewCache builds the backend named by config.Type.
func NewCache(config Config) (Cache, error) {
	switch strings.ToLower(config.Type) {
	case "", "local", "lru":
		return NewLocalCache(config.Local), nil
	case "gocache":
		return NewGoCache(config.Local), nil
	case "redis":
		return NewRedisCache(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
}

// NewCacheWithOptions puts a local layer in front of redis when asked to.
func NewCacheWithOptions(config Config, options *Options) (Cache, error) {
	if options == nil {
		options = DefaultOptions()
	}
	if strings.ToLower(config.Type) != "redis" || !options.UseLocalCache {
		return NewCache(config)
	}
	distributed, err := NewRedisCache(config.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	localConfig := config.Local
	if options.LocalExpiration > 0 {
		localConfig.DefaultExpiration = options.LocalExpiration
	}
	return NewLayeredCache(NewLocalCache(localConfig), distributed, options), nil
}

// NewLayeredCache reads through local to distributed and writes to both.
func NewLayeredCache(local, distributed Cache, options *Options) Cache {
	if options == nil {
		options = DefaultOptions()
	}
	return &layeredCache{local: local, distributed: distributed, options: options}
}

type layeredCache struct {
	local       Cache
	distributed Cache
	options     *Options
}

func (lc *layeredCache) localTTL(ttl time.Duration) time.Duration {
	if lc.options.LocalExpiration > 0 && (ttl <= 0 || ttl > lc.options.LocalExpiration) {
		return lc.options.LocalExpiration
	}
	return ttl
}

// Get backfills the local layer on a distributed hit.
func (lc *layeredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := lc.local.Get(ctx, key); ok {
		return value, true
	}
	value, ttl, ok := lc.distributed.GetWithTTL(ctx, key)
	if !ok {
		return nil, false
	}
	_ = lc.local.Set(ctx, key, value, lc.localTTL(ttl))
	return value, true
}

func (lc *layeredCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = lc.options.Expiration
	}
	if err := lc.distributed.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.local.Set(ctx, key, value, lc.localTTL(expiration))
}

func (lc *layeredCache) Delete(ctx context.Context, key string) error {
	if err := lc.local.Delete(ctx, key); err != nil {
		return err
	}
	return lc.distributed.Delete(ctx, key)
}

func (lc *layeredCache) Exists(ctx context.Context, key string) bool {
	return lc.local.Exists(ctx, key) || lc.distributed.Exists(ctx, key)
}

func (lc *layeredCache) Clear(ctx context.Context) error {
	if err := lc.local.Clear(ctx); err != nil {
		return err
	}
	return lc.distributed.Clear(ctx)
}

func (lc *layeredCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	if value, ttl, ok := lc.distributed.GetWithTTL(ctx, key); ok {
		_ = lc.local.Set(ctx, key, value, lc.localTTL(ttl))
		return value, ttl, true
	}
	return nil, 0, false
}

func (lc *layeredCache) Close() error {
	if err := lc.local.Close(); err != nil {
		return err
	}
	return lc.distributed.Close()
}
