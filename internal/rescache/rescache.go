// Package rescache caches AI entity-resolution verdicts so repeated
// candidate/existing pairs within a run (and across resumed runs) skip
// the model call.
package rescache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSize bounds the number of cached verdicts.
	DefaultSize = 1000
	// DefaultTTL expires verdicts so stale judgments age out of long
	// sessions.
	DefaultTTL = time.Hour
)

// Key identifies one resolution question. Names are case-folded so
// "Mira" vs "mira" hit the same entry.
type Key struct {
	NewName      string `json:"newName"`
	NewType      string `json:"newType"`
	ExistingName string `json:"existingName"`
}

// NewKey builds a normalized cache key.
func NewKey(newName, newType, existingName string) Key {
	return Key{
		NewName:      strings.ToLower(strings.TrimSpace(newName)),
		NewType:      strings.TrimSpace(newType),
		ExistingName: strings.ToLower(strings.TrimSpace(existingName)),
	}
}

// Resolution is a cached verdict.
type Resolution struct {
	IsMatch    bool      `json:"isMatch"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	InsertedAt time.Time `json:"insertedAt"`
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits" yaml:"hits"`
	Misses  int64   `json:"misses" yaml:"misses"`
	HitRate float64 `json:"hitRate" yaml:"hitRate"`
	Size    int     `json:"size" yaml:"size"`
}

// Cache is a thread-safe LRU with TTL expiry.
type Cache struct {
	lru    *expirable.LRU[Key, Resolution]
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the given size and TTL. Zero values pick the
// defaults.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lru: expirable.NewLRU[Key, Resolution](size, nil, ttl),
		ttl: ttl,
	}
}

// Get returns the cached verdict, or nil on miss or expiry.
func (c *Cache) Get(key Key) *Resolution {
	res, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return &res
}

// Put stores a verdict, evicting the least-recently-used entry when full.
func (c *Cache) Put(key Key, res Resolution) {
	if res.InsertedAt.IsZero() {
		res.InsertedAt = time.Now().UTC()
	}
	c.lru.Add(key, res)
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	s := Stats{Hits: hits, Misses: misses, Size: c.lru.Len()}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Entry is one key/verdict pair in a snapshot.
type Entry struct {
	Key        Key        `json:"key"`
	Resolution Resolution `json:"resolution"`
}

// Snapshot returns all live entries, oldest first, for persistence.
func (c *Cache) Snapshot() []Entry {
	keys := c.lru.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if res, ok := c.lru.Peek(k); ok {
			entries = append(entries, Entry{Key: k, Resolution: res})
		}
	}
	return entries
}

// Restore loads entries from a snapshot, skipping ones whose TTL has
// already elapsed. Restored entries age from now, not InsertedAt; the
// InsertedAt skip keeps a dormant snapshot from resurrecting stale
// verdicts.
func (c *Cache) Restore(entries []Entry) int {
	cutoff := time.Now().Add(-c.ttl)
	restored := 0
	for _, e := range entries {
		if !e.Resolution.InsertedAt.IsZero() && e.Resolution.InsertedAt.Before(cutoff) {
			continue
		}
		c.lru.Add(e.Key, e.Resolution)
		restored++
	}
	return restored
}

// Purge drops every entry and resets nothing else; counters persist.
func (c *Cache) Purge() {
	c.lru.Purge()
}
