package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache: closed")

// Cache stores opaque byte values with a per entry TTL. Values are bytes so
// every backend (in process or redis) behaves the same; see GetJSON/SetJSON
// for typed access.
type Cache interface {
	// Get returns the value and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value. expiration <= 0 uses the backend default.
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) bool

	// Clear removes every key owned by this cache.
	Clear(ctx context.Context) error

	// GetWithTTL also returns the remaining time to live.
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// local | gocache | redis
	Type string `json:"type" env:"CACHE_TYPE" default:"local"`

	Redis RedisConfig `json:"redis"`

	Local LocalConfig `json:"local"`
}

type RedisConfig struct {
	Addr         string        `json:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" env:"REDIS_DB" default:"0"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `json:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" default:"3s"`
	// KeyPrefix namespaces every key so Clear never touches foreign keys.
	KeyPrefix string `json:"key_prefix" env:"REDIS_KEY_PREFIX" default:"megabrain:"`
}

type LocalConfig struct {
	MaxSize           int           `json:"max_size" env:"LOCAL_CACHE_MAX_SIZE" default:"10000"`
	DefaultExpiration time.Duration `json:"default_expiration" env:"LOCAL_CACHE_DEFAULT_EXPIRATION" default:"5m"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"LOCAL_CACHE_CLEANUP_INTERVAL" default:"10m"`
}

// Options tune the layered cache.
type Options struct {
	Expiration time.Duration

	// UseLocalCache puts an in process layer in front of redis.
	UseLocalCache bool

	// LocalExpiration is usually shorter than Expiration so instances
	// converge quickly after a write elsewhere.
	LocalExpiration time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Expiration:      5 * time.Minute,
		UseLocalCache:   true,
		LocalExpiration: 30 * time.Second,
	}
}
