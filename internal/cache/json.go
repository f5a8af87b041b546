package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetJSON fetches key and decodes it into a T. An undecodable entry is
// reported as a miss and evicted.
func GetJSON[T any](ctx context.Context, c *Tiered, key string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.WarnContext(ctx, "dropping undecodable cache entry", "key", key, "error", err)
		_ = c.Invalidate(ctx, key)
		return out, false, nil
	}
	return out, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c *Tiered, key string, v any, memoryTTL time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value for %q: %w", key, err)
	}
	return c.Set(ctx, key, raw, memoryTTL)
}
