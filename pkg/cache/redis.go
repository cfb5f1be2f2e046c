package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials redis and verifies the connection. The client is
// shared with the rate limiter store.
func NewRedisClient(config RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type redisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	ownsClient bool
}

// NewRedisCache dials a dedicated client.
func NewRedisCache(config RedisConfig) (Cache, error) {
	client, err := NewRedisClient(config)
	if err != nil {
		return nil, err
	}
	rc := NewRedisCacheWithClient(client, config.KeyPrefix).(*redisCache)
	rc.ownsClient = true
	return rc, nil
}

// NewRedisCacheWithClient wraps an existing client; Close leaves it open.
func NewRedisCacheWithClient(client *redis.Client, prefix string) Cache {
	return &redisCache{client: client, prefix: prefix, defaultTTL: 5 * time.Minute}
}

func (rc *redisCache) key(k string) string { return rc.prefix + k }

func (rc *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (rc *redisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = rc.defaultTTL
	}
	return rc.client.Set(ctx, rc.key(key), value, expiration).Err()
}

func (rc *redisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, rc.key(key)).Err()
}

func (rc *redisCache) Exists(ctx context.Context, key string) bool {
	return rc.client.Exists(ctx, rc.key(key)).Val() > 0
}

// Clear deletes keys under the prefix only, never the whole DB.
func (rc *redisCache) Clear(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := rc.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return rc.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (rc *redisCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	pipe := rc.client.Pipeline()
	getCmd := pipe.Get(ctx, rc.key(key))
	ttlCmd := pipe.TTL(ctx, rc.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false
	}
	b, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, false
	}
	return b, ttlCmd.Val(), true
}

func (rc *redisCache) Close() error {
	if rc.ownsClient {
		return rc.client.Close()
	}
	return nil
}
