package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltOptions configures the embedded store.
type BoltOptions struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Bolt is a single-node Store backed by a bbolt file. Each value is stored
// as an 8 byte big-endian unix-nano expiry (0 = none) followed by the raw bytes.
// Expired entries are removed lazily.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

// OpenBolt initializes or opens a store at path.
func OpenBolt(path string, opts BoltOptions) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte("kv")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Bolt{db: db, bucket: bucket, now: now}, nil
}

func encodeEntry(value []byte, expiresAt int64) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)
	return buf
}

func decodeEntry(raw []byte) (value []byte, expiresAt int64) {
	if len(raw) < 8 {
		return nil, 0
	}
	return raw[8:], int64(binary.BigEndian.Uint64(raw[:8]))
}

func (s *Bolt) expired(expiresAt int64) bool {
	return expiresAt > 0 && s.now().UnixNano() >= expiresAt
}

func (s *Bolt) expiryFor(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

func (s *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var (
		out      []byte
		found    bool
		staleExp int64
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, exp := decodeEntry(raw)
		if s.expired(exp) {
			staleExp = exp
			return nil
		}
		found = true
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if staleExp != 0 {
		_ = s.deleteIfExpiresAt(key, staleExp)
	}
	if !found {
		return nil, ErrNotFound
	}
	return out, nil
}

// deleteIfExpiresAt removes key only while it still carries the expiry seen
// by the read, so a write landing after that read survives.
func (s *Bolt) deleteIfExpiresAt(key string, expiresAt int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if _, exp := decodeEntry(raw); exp != expiresAt {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Bolt) put(key string, value []byte, expiresAt int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), encodeEntry(value, expiresAt))
	})
}

func (s *Bolt) Set(_ context.Context, key string, value []byte) error {
	return s.put(key, value, 0)
}

func (s *Bolt) SetEX(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.put(key, value, s.expiryFor(ttl))
}

func (s *Bolt) Delete(_ context.Context, keys ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan uses a cursor seek, so the prefix is always literal.
func (s *Bolt) Scan(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if _, exp := decodeEntry(v); s.expired(exp) {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func (s *Bolt) Expire(_ context.Context, key string, ttl time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, exp := decodeEntry(raw)
		if s.expired(exp) {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), encodeEntry(v, s.expiryFor(ttl)))
	})
}

func (s *Bolt) Incr(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var exp int64
		if raw := b.Get([]byte(key)); raw != nil {
			v, e := decodeEntry(raw)
			if !s.expired(e) {
				cur, err := strconv.ParseInt(string(v), 10, 64)
				if err != nil {
					return fmt.Errorf("value at %q is not an integer", key)
				}
				n, exp = cur, e
			}
		}
		n++
		return b.Put([]byte(key), encodeEntry([]byte(strconv.FormatInt(n, 10)), exp))
	})
	return n, err
}

func (s *Bolt) Flush(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

func (s *Bolt) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return fmt.Errorf("bucket %q missing", s.bucket)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Bolt) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
