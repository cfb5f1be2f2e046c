package cache

import (
	"context"
	"encoding/json"
	"time"
)

// GetJSON decodes the value under key into a T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, expiration)
}
