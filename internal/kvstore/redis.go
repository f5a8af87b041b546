package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// ScanCount is the COUNT hint passed to SCAN.
	ScanCount int64
}

// Redis implements Store on top of go-redis.
type Redis struct {
	rdb       *redis.Client
	scanCount int64
}

// NewRedis creates a client. No connection is made until the first command.
func NewRedis(opts RedisOptions) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisFromClient(rdb, opts.ScanCount)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, scanCount int64) *Redis {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &Redis{rdb: rdb, scanCount: scanCount}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.rdb.Set(ctx, key, value, 0).Err()
}

func (r *Redis) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.SetEx(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// Scan walks the keyspace with SCAN MATCH, which does not block the server
// the way KEYS does.
func (r *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := EscapeGlob(prefix) + "*"
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.rdb.Scan(ctx, cursor, pattern, r.scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, key, ttl).Err()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.rdb.Incr(ctx, key).Result()
}

// Flush empties the selected logical database only.
func (r *Redis) Flush(ctx context.Context) error {
	return r.rdb.FlushDB(ctx).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
