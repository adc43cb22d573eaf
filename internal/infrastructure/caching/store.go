// Package caching provides the TTL-scoped key/value store backing the
// analytics orchestration layer.
package caching

import (
	"strings"
	"sync"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
)

// Entry is one cached value with its insertion time and time-to-live.
// An entry is valid iff now - InsertedAt < TTL; expired entries are
// logically absent but remain readable through GetStale until swept.
type Entry struct {
	Key        string        `json:"key"`
	Value      any           `json:"value"`
	InsertedAt time.Time     `json:"insertedAt"`
	TTL        time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL
func (e *Entry) Fresh(now time.Time) bool {
	return now.Sub(e.InsertedAt) < e.TTL
}

// Store is an in-memory TTL cache. Expiry happens purely by age comparison
// at read time; the optional Sweeper reclaims memory in the background.
// Values stored here are treated as immutable snapshots: writers replace
// entries, they never edit a stored value in place.
type Store struct {
	entries map[string]*Entry
	mu      sync.RWMutex
	logger  *logging.ChanneledLogger
}

// NewStore creates an empty cache store
func NewStore(logger *logging.ChanneledLogger) *Store {
	return &Store{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Get retrieves a fresh value. Expired or absent keys report a miss.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists || !entry.Fresh(time.Now()) {
		return nil, false
	}
	return entry.Value, true
}

// GetStale retrieves a value regardless of freshness. The second return
// reports whether the entry is still fresh, the third whether it exists at
// all. Callers use stale values for optimistic serving while a refresh is
// pending.
func (s *Store) GetStale(key string) (any, bool, bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, false
	}
	return entry.Value, entry.Fresh(time.Now()), true
}

// Set stores a value under key with the given TTL, replacing any prior entry
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = &Entry{
		Key:        key,
		Value:      value,
		InsertedAt: time.Now(),
		TTL:        ttl,
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Cache().Debug("Cache entry stored", "key", key, "ttl", ttl)
	}
}

// Invalidate removes the exact key
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns the number removed
func (s *Store) InvalidatePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// InvalidateExpired removes entries whose TTL has elapsed and returns the
// number removed. This backs selective refresh.
func (s *Store) InvalidateExpired() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !entry.Fresh(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes every entry
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Cache().Info("Cache cleared")
	}
}

// Len returns the number of entries, fresh or stale
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Summary returns cache status for the status endpoint
func (s *Store) Summary() map[string]any {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	fresh := 0
	stale := 0
	for _, entry := range s.entries {
		if entry.Fresh(now) {
			fresh++
		} else {
			stale++
		}
	}

	return map[string]any{
		"entries": len(s.entries),
		"fresh":   fresh,
		"stale":   stale,
	}
}
