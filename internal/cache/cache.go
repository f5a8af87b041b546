// Package cache holds the two caches used by the API: the versioned tiered
// cache behind eligibility scans and memoized lookups, and a bounded LRU for
// rendered listing responses.
package cache

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// Cache stores serialized responses with a TTL.
type Cache interface {
	// Get returns the value and true if found and not expired.
	Get(key string) ([]byte, bool)
	// Set stores value under key. A ttl of 0 uses the cache default.
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	// Clear drops every entry. Called after any write that changes listings.
	Clear()
	Stats() Stats
}

// Stats represents response cache statistics.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeysAdded uint64 `json:"keys_added"`
	Evictions uint64 `json:"evictions"`
	Size      int64  `json:"size_bytes"`
	Items     int64  `json:"items"`
}

// ResponseKey builds a canonical key from a route name and its query string,
// so ?status=a&funder=b and ?funder=b&status=a share an entry.
func ResponseKey(route string, query url.Values) string {
	if len(query) == 0 {
		return route
	}
	names := make([]string, 0, len(query))
	for k := range query {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(route)
	b.WriteByte('?')
	for i, k := range names {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.Join(vals, ",")))
	}
	return b.String()
}
