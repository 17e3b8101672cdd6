package cachestore

import (
	"reflect"
	"testing"
	"time"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	rec := NewRecord("<html>hello</html>", 200, time.Hour)
	if !s.Set("k1", rec, time.Hour) {
		t.Fatal("Set returned false")
	}

	got, ok := s.Get("k1")
	if !ok {
		t.Fatal("Get missed after Set")
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("Round-trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestMemoryStore_GetMiss(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	if _, ok := s.Get("absent"); ok {
		t.Error("Expected miss for absent key")
	}
}

func TestMemoryStore_SetNilRecord(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	if s.Set("k", nil, time.Hour) {
		t.Error("Set with nil record should be rejected")
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	s.Set("k", NewRecord("x", 200, 30*time.Millisecond), 30*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if _, ok := s.Get("k"); ok {
		t.Error("Expected miss after TTL expiry")
	}
	if s.Stats().Keys != 0 {
		t.Error("Expired entry should be reaped on read")
	}
}

func TestStaleness(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := 100 * time.Second

	tests := []struct {
		name        string
		age         time.Duration
		wantStale   bool
		wantExpired bool
	}{
		{"fresh", 10 * time.Second, false, false},
		{"at_threshold", 80 * time.Second, false, false}, // stale strictly after 80%
		{"just_past_threshold", 81 * time.Second, true, false},
		{"near_expiry", 99 * time.Second, true, false},
		{"expired", 100 * time.Second, true, true},
		{"long_expired", 500 * time.Second, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stale, expired := staleness(base, ttl, base.Add(tt.age))
			if stale != tt.wantStale {
				t.Errorf("stale = %v, want %v", stale, tt.wantStale)
			}
			if expired != tt.wantExpired {
				t.Errorf("expired = %v, want %v", expired, tt.wantExpired)
			}
		})
	}
}

func TestMemoryStore_GetWithTTL_Stale(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	ttl := 500 * time.Millisecond
	s.Set("k", NewRecord("x", 200, ttl), ttl)

	lookup := s.GetWithTTL("k")
	if !lookup.Found || lookup.Stale {
		t.Fatalf("Expected fresh hit right after Set, got %+v", lookup)
	}

	// Past 80% of the TTL but before expiry.
	time.Sleep(450 * time.Millisecond)

	lookup = s.GetWithTTL("k")
	if !lookup.Found {
		t.Fatal("Expected entry to still be present in the stale window")
	}
	if !lookup.Stale {
		t.Error("Expected Stale=true past 80% of TTL")
	}
	if lookup.TTLRemaining <= 0 {
		t.Errorf("Expected positive TTLRemaining, got %v", lookup.TTLRemaining)
	}
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	s := NewMemoryStore(2, time.Hour)
	defer s.Close()

	s.Set("a", NewRecord("a", 200, time.Hour), time.Hour)
	s.Set("b", NewRecord("b", 200, time.Hour), time.Hour)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := s.Get("a"); !ok {
		t.Fatal("Get a failed")
	}

	s.Set("c", NewRecord("c", 200, time.Hour), time.Hour)

	if _, ok := s.Get("b"); ok {
		t.Error("Expected least-recently-used key b to be evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("Recently used key a should survive eviction")
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("Newly inserted key c should be present")
	}
	if s.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Stats().Evictions)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	s.Set("k", NewRecord("x", 200, time.Hour), time.Hour)

	if got := s.Delete("k"); got != 1 {
		t.Errorf("Delete existing key = %d, want 1", got)
	}
	if got := s.Delete("k"); got != 0 {
		t.Errorf("Delete absent key = %d, want 0", got)
	}
}

func TestMemoryStore_Flush(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	s.Set("a", NewRecord("a", 200, time.Hour), time.Hour)
	s.Set("b", NewRecord("b", 200, time.Hour), time.Hour)
	s.Flush()

	if s.Stats().Keys != 0 {
		t.Errorf("Keys after Flush = %d, want 0", s.Stats().Keys)
	}
}

func TestMemoryStore_KeysAndEntries(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	s.Set("a", NewRecord("a", 200, time.Hour), time.Hour)
	s.Set("b", NewRecord("b", 200, time.Hour), time.Hour)

	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("Keys = %v, want [b a] (most recent first)", keys)
	}

	entries := s.Entries()
	if len(entries) != 2 || entries[0].Record.Content != "b" {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	s.Set("k", NewRecord("x", 200, time.Hour), time.Hour)
	s.Get("k")
	s.Get("absent")

	stats := s.Stats()
	if stats.Backend != "memory" {
		t.Errorf("Backend = %s, want memory", stats.Backend)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.Sets != 1 {
		t.Errorf("Unexpected counters: %+v", stats)
	}
}

func TestMemoryStore_Ready(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	defer s.Close()

	if !s.Ready() {
		t.Error("Memory store must always be ready")
	}
}

func TestMemoryStore_SetAfterClose(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	s.Close()

	if s.Set("k", NewRecord("x", 200, time.Hour), time.Hour) {
		t.Error("Set after Close should be rejected")
	}
}
