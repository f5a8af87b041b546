// Package kvstore adapts the persistent key-value tier used by the tiered
// cache, the fixed-window limiter and token revocation.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/logger"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("kvstore: not found")

// Store is the minimal contract the persistent tier must satisfy.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value with no expiry.
	Set(ctx context.Context, key string, value []byte) error
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Scan returns every key beginning with the literal prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Incr increments an integer value, creating it at 1 when absent.
	// An existing expiry is kept.
	Incr(ctx context.Context, key string) (int64, error)
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by KVSTORE_BACKEND.
const (
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Open builds the store selected by cfg.KVBackend and pings it. A failed ping
// is fatal only when cfg.CacheDegradeOnInfraError is false; otherwise the
// store is returned and callers degrade until it comes back.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.KVBackend {
	case BackendRedis, "":
		s = NewRedis(RedisOptions{Addr: cfg.RedisAddr(), Password: cfg.RedisPassword, DB: cfg.RedisDB})
	case BackendBolt:
		s, err = OpenBolt(cfg.BoltPath, BoltOptions{})
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
	case BackendMemory:
		s = NewMemory()
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		if cfg.CacheDegradeOnInfraError {
			logger.WarnContext(ctx, "Persistent tier unreachable, starting degraded", "backend", cfg.KVBackend, "error", err)
			return s, nil
		}
		_ = s.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.KVBackend, err)
	}
	return s, nil
}

// EscapeGlob escapes the characters Redis treats specially in MATCH patterns
// so a caller-supplied prefix is matched literally.
func EscapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
