package cachestore

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the memory store when no limit is configured.
const DefaultMaxEntries = 1000

// MemoryStore is a fully synchronous, bounded, TTL-aware in-process backend.
// Eviction on capacity overflow is least-recently-used; expired entries are
// reaped lazily on read.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	lru        *list.List // front = most recently used
	maxEntries int
	defaultTTL time.Duration
	closed     bool

	hits      uint64
	misses    uint64
	sets      uint64
	deletes   uint64
	evictions uint64
}

type memoryEntry struct {
	key      string
	rec      *Record
	storedAt time.Time
	ttl      time.Duration
	elem     *list.Element
}

// NewMemoryStore creates a memory backend. maxEntries <= 0 and defaultTTL <= 0
// fall back to DefaultMaxEntries and one hour.
func NewMemoryStore(maxEntries int, defaultTTL time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		lru:        list.New(),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a record. Expired entries are removed and reported as misses.
func (s *MemoryStore) Get(key string) (*Record, bool) {
	lookup := s.GetWithTTL(key)
	return lookup.Record, lookup.Found
}

// GetWithTTL retrieves a record together with its remaining TTL and
// staleness. A hit moves the entry to the front of the LRU list.
func (s *MemoryStore) GetWithTTL(key string) Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		CacheMisses.WithLabelValues("memory").Inc()
		return Lookup{}
	}

	remaining, stale, expired := staleness(entry.storedAt, entry.ttl, time.Now())
	if expired {
		s.removeLocked(entry)
		s.misses++
		CacheMisses.WithLabelValues("memory").Inc()
		return Lookup{}
	}

	s.lru.MoveToFront(entry.elem)
	s.hits++
	CacheHits.WithLabelValues("memory").Inc()

	return Lookup{
		Record:       entry.rec,
		TTLRemaining: remaining,
		Stale:        stale,
		Found:        true,
	}
}

// Set stores a record, evicting the least recently used entry on overflow.
// ttl <= 0 applies the store's default TTL.
func (s *MemoryStore) Set(key string, rec *Record, ttl time.Duration) bool {
	if rec == nil {
		return false
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if existing, ok := s.entries[key]; ok {
		existing.rec = rec
		existing.storedAt = time.Now()
		existing.ttl = ttl
		s.lru.MoveToFront(existing.elem)
		s.sets++
		return true
	}

	for len(s.entries) >= s.maxEntries {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest.Value.(*memoryEntry))
		s.evictions++
		Evictions.Inc()
	}

	entry := &memoryEntry{
		key:      key,
		rec:      rec,
		storedAt: time.Now(),
		ttl:      ttl,
	}
	entry.elem = s.lru.PushFront(entry)
	s.entries[key] = entry
	s.sets++
	return true
}

// Delete removes a key, returning the number of entries removed (0 or 1).
func (s *MemoryStore) Delete(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0
	}
	s.removeLocked(entry)
	s.deletes++
	return 1
}

// Flush removes every entry.
func (s *MemoryStore) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	s.lru.Init()
}

// Stats returns a snapshot of the store's counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Backend:   "memory",
		Keys:      len(s.entries),
		Hits:      s.hits,
		Misses:    s.misses,
		Sets:      s.sets,
		Deletes:   s.deletes,
		Evictions: s.evictions,
	}
}

// Keys lists the stored keys, most recently used first.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for e := s.lru.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*memoryEntry).key)
	}
	return keys
}

// Entries lists every stored key/record pair, most recently used first.
func (s *MemoryStore) Entries() []KeyedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]KeyedRecord, 0, len(s.entries))
	for e := s.lru.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*memoryEntry)
		out = append(out, KeyedRecord{Key: entry.key, Record: entry.rec})
	}
	return out
}

// Ready always reports true; the memory store has no external dependency.
func (s *MemoryStore) Ready() bool {
	return true
}

// Close marks the store closed and drops its table.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = make(map[string]*memoryEntry)
	s.lru.Init()
	return nil
}

// removeLocked unlinks an entry from the table and LRU list.
// Caller holds s.mu.
func (s *MemoryStore) removeLocked(entry *memoryEntry) {
	delete(s.entries, entry.key)
	s.lru.Remove(entry.elem)
}

var _ Backend = (*MemoryStore)(nil)
