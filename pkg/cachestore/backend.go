// Package cachestore provides the pluggable snapshot cache used by the
// serving pipeline.
//
// Two backends implement the same synchronous-feeling contract: MemoryStore,
// a bounded in-process LRU with per-key TTL, and RedisStore, a network-backed
// store whose operations block on the round trip. ShadowAdapter bridges the
// two worlds by answering synchronous reads from a local shadow of the remote
// value, refreshed by background fetches. CreateCache selects and constructs
// a backend at startup, falling back to memory when the remote is not ready.
package cachestore

import (
	"errors"
	"time"
)

// StaleFraction is the share of a TTL after which an entry is considered
// stale but still servable: isStale = age > StaleFraction * ttl.
const StaleFraction = 0.8

var (
	// ErrCacheMiss indicates the requested key was not found or expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidRecord indicates a stored payload failed to deserialize.
	// Callers treat this as a miss, never as a fatal condition.
	ErrInvalidRecord = errors.New("invalid cache record")
)

// Lookup is the result of a TTL-aware read.
type Lookup struct {
	// Record is the cached snapshot, nil on miss.
	Record *Record

	// TTLRemaining is the time until the entry expires.
	TTLRemaining time.Duration

	// Stale is true once the entry has aged past StaleFraction of its TTL.
	Stale bool

	// Found is false on miss.
	Found bool
}

// KeyedRecord pairs a cache key with its record, for dashboard listings.
type KeyedRecord struct {
	Key    string  `json:"key"`
	Record *Record `json:"record"`
}

// Stats is a point-in-time snapshot of backend counters.
type Stats struct {
	Backend   string `json:"backend"`
	Keys      int    `json:"keys"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Deletes   uint64 `json:"deletes"`
	Evictions uint64 `json:"evictions"`
}

// Backend is the uniform synchronous cache contract consumed by the serving
// pipeline's hot path. Implementations must be safe for concurrent use.
//
// Contract:
//   - Get returns (nil, false) on miss; it never blocks on the network.
//   - Set reports whether the value was accepted.
//   - Delete returns the number of keys removed.
//   - Ready reports whether the backend can serve requests right now.
//   - Close releases owned resources; all shutdown paths must reach it.
type Backend interface {
	Get(key string) (*Record, bool)
	GetWithTTL(key string) Lookup
	Set(key string, rec *Record, ttl time.Duration) bool
	Delete(key string) int
	Flush()
	Stats() Stats
	Keys() []string
	Entries() []KeyedRecord
	Ready() bool
	Close() error
}

// staleness computes the TTL-remaining and staleness of an entry stored at
// storedAt with the given TTL. Shared by every backend so the 80% threshold
// stays uniform.
func staleness(storedAt time.Time, ttl time.Duration, now time.Time) (remaining time.Duration, stale bool, expired bool) {
	age := now.Sub(storedAt)
	remaining = ttl - age
	if remaining <= 0 {
		return 0, true, true
	}
	stale = age > time.Duration(StaleFraction*float64(ttl))
	return remaining, stale, false
}
