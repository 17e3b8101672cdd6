package cachestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Remote is the asynchronous contract of a network-backed store. Every
// operation blocks on a round trip and honors its context. RedisStore is the
// production implementation.
type Remote interface {
	GetWithTTL(ctx context.Context, key string) (*Record, time.Duration, error)
	Set(ctx context.Context, key string, rec *Record, ttl time.Duration) error
	Delete(ctx context.Context, key string) (int, error)
	Flush(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Entries(ctx context.Context) ([]KeyedRecord, error)
	Ready() bool
	Close() error
}

// negativeTTL bounds how long a confirmed remote miss suppresses refetching.
const negativeTTL = 5 * time.Second

// defaultFetchTimeout bounds each background remote operation.
const defaultFetchTimeout = 3 * time.Second

// ShadowAdapter presents the synchronous Backend contract over a Remote by
// keeping a per-key local shadow of the remote value.
//
// The first synchronous read for a key after a cold start or invalidation is
// a guaranteed miss: the adapter returns immediately and launches one
// background fetch that populates the shadow entry on completion. Subsequent
// reads serve the shadow value until a new Set invalidates it. Writes update
// the shadow immediately and propagate to the remote in the background.
//
// Call sites that can suspend should use Async() and talk to the remote
// directly instead of paying the one-read-of-staleness this bridge trades
// for a uniform interface.
type ShadowAdapter struct {
	remote       Remote
	logger       zerolog.Logger
	fetchTimeout time.Duration

	mu       sync.Mutex
	shadow   map[string]*shadowEntry
	inFlight map[string]struct{}
	gen      map[string]uint64 // bumped on Set/Delete to fence stale fetches
	closed   bool
	wg       sync.WaitGroup

	hits    uint64
	misses  uint64
	sets    uint64
	deletes uint64
}

// shadowEntry mirrors one remote value. rec == nil records a confirmed
// remote miss. Entries are never explicitly destroyed; they lapse when the
// mirrored TTL runs out.
type shadowEntry struct {
	rec        *Record
	fetchedAt  time.Time
	ttlAtFetch time.Duration
}

// expired reports whether the mirrored TTL has lapsed.
func (e *shadowEntry) expired(now time.Time) bool {
	return now.Sub(e.fetchedAt) >= e.ttlAtFetch
}

// NewShadowAdapter wraps a remote store in the synchronous Backend contract.
func NewShadowAdapter(remote Remote, logger zerolog.Logger) *ShadowAdapter {
	return &ShadowAdapter{
		remote:       remote,
		logger:       logger,
		fetchTimeout: defaultFetchTimeout,
		shadow:       make(map[string]*shadowEntry),
		inFlight:     make(map[string]struct{}),
		gen:          make(map[string]uint64),
	}
}

// Async returns the wrapped remote for call sites that can suspend.
func (a *ShadowAdapter) Async() Remote {
	return a.remote
}

// Get retrieves the shadow value for a key. A cold key reports a miss and
// triggers one background fetch.
func (a *ShadowAdapter) Get(key string) (*Record, bool) {
	lookup := a.GetWithTTL(key)
	return lookup.Record, lookup.Found
}

// GetWithTTL retrieves the shadow value with TTL and staleness. Staleness is
// computed from the record's own render timestamp so memory and shadow
// backends agree on the 80% threshold.
func (a *ShadowAdapter) GetWithTTL(key string) Lookup {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	entry, ok := a.shadow[key]

	if !ok || entry.expired(now) {
		if ok {
			delete(a.shadow, key)
		}
		a.misses++
		CacheMisses.WithLabelValues("shadow").Inc()
		a.scheduleFetchLocked(key)
		return Lookup{}
	}

	if entry.rec == nil {
		// Confirmed remote miss, still within the negative window.
		a.misses++
		CacheMisses.WithLabelValues("shadow").Inc()
		return Lookup{}
	}

	remaining := entry.ttlAtFetch - now.Sub(entry.fetchedAt)
	fullTTL := time.Duration(entry.rec.TTLSeconds) * time.Second
	stale := fullTTL > 0 && entry.rec.Age() > time.Duration(StaleFraction*float64(fullTTL))

	a.hits++
	CacheHits.WithLabelValues("shadow").Inc()

	return Lookup{
		Record:       entry.rec,
		TTLRemaining: remaining,
		Stale:        stale,
		Found:        true,
	}
}

// Set updates the shadow immediately and propagates the write to the remote
// in the background. The shadow is authoritative for subsequent reads.
func (a *ShadowAdapter) Set(key string, rec *Record, ttl time.Duration) bool {
	if rec == nil {
		return false
	}
	if ttl <= 0 {
		ttl = time.Duration(rec.TTLSeconds) * time.Second
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.shadow[key] = &shadowEntry{rec: rec, fetchedAt: time.Now(), ttlAtFetch: ttl}
	a.gen[key]++
	a.sets++
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.fetchTimeout)
		defer cancel()
		if err := a.remote.Set(ctx, key, rec, ttl); err != nil {
			a.logger.Warn().Str("key", key).Err(err).Msg("Background remote set failed")
		}
	}()

	return true
}

// Delete removes the shadow entry and deletes the remote key in the
// background. The returned count reflects the local shadow only.
func (a *ShadowAdapter) Delete(key string) int {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0
	}
	_, had := a.shadow[key]
	delete(a.shadow, key)
	a.gen[key]++
	a.deletes++
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.fetchTimeout)
		defer cancel()
		if _, err := a.remote.Delete(ctx, key); err != nil {
			a.logger.Warn().Str("key", key).Err(err).Msg("Background remote delete failed")
		}
	}()

	if had {
		return 1
	}
	return 0
}

// Flush clears the shadow wholesale and flushes the remote in the background.
func (a *ShadowAdapter) Flush() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.shadow = make(map[string]*shadowEntry)
	a.gen = make(map[string]uint64)
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.fetchTimeout)
		defer cancel()
		if err := a.remote.Flush(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Background remote flush failed")
		}
	}()
}

// Stats returns the adapter's local counters. Keys counts shadow entries,
// not remote keys.
func (a *ShadowAdapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		Backend: "redis",
		Keys:    len(a.shadow),
		Hits:    a.hits,
		Misses:  a.misses,
		Sets:    a.sets,
		Deletes: a.deletes,
	}
}

// Keys lists the shadowed keys. Use Async().Keys for the remote listing.
func (a *ShadowAdapter) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, 0, len(a.shadow))
	for key, entry := range a.shadow {
		if entry.rec != nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// Entries lists the shadowed key/record pairs. Use Async().Entries for the
// remote listing.
func (a *ShadowAdapter) Entries() []KeyedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]KeyedRecord, 0, len(a.shadow))
	for key, entry := range a.shadow {
		if entry.rec != nil {
			out = append(out, KeyedRecord{Key: key, Record: entry.rec})
		}
	}
	return out
}

// Ready reports the remote's live connection state.
func (a *ShadowAdapter) Ready() bool {
	return a.remote.Ready()
}

// Close waits for outstanding background work and releases the remote
// connection. Safe to call once from every shutdown path.
func (a *ShadowAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()
	return a.remote.Close()
}

// scheduleFetchLocked launches one background fetch for a key unless one is
// already in flight. Caller holds a.mu.
func (a *ShadowAdapter) scheduleFetchLocked(key string) {
	if a.closed {
		return
	}
	if _, busy := a.inFlight[key]; busy {
		return
	}
	a.inFlight[key] = struct{}{}
	generation := a.gen[key]
	a.wg.Add(1)

	go a.fetch(key, generation)
}

// fetch populates the shadow entry for a key from the remote. The in-flight
// marker is cleared unconditionally. A fetch that raced a newer local write
// is discarded.
func (a *ShadowAdapter) fetch(key string, generation uint64) {
	defer a.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), a.fetchTimeout)
	rec, ttl, err := a.remote.GetWithTTL(ctx, key)
	cancel()

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.inFlight, key)

	if a.closed || a.gen[key] != generation {
		return
	}

	switch {
	case err == nil:
		if ttl <= 0 {
			ttl = time.Duration(rec.TTLSeconds) * time.Second
		}
		a.shadow[key] = &shadowEntry{rec: rec, fetchedAt: time.Now(), ttlAtFetch: ttl}
		ShadowRefreshes.WithLabelValues("hit").Inc()
	case errors.Is(err, ErrCacheMiss), errors.Is(err, ErrInvalidRecord):
		a.shadow[key] = &shadowEntry{rec: nil, fetchedAt: time.Now(), ttlAtFetch: negativeTTL}
		ShadowRefreshes.WithLabelValues("miss").Inc()
	default:
		// Transient remote failure: leave the shadow untouched so the next
		// read retries.
		ShadowRefreshes.WithLabelValues("error").Inc()
		a.logger.Warn().Str("key", key).Err(err).Msg("Background shadow fetch failed")
	}
}

var _ Backend = (*ShadowAdapter)(nil)
