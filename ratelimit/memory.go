package ratelimit

import (
	"sync"
	"time"
)

// memoryStore is the in-process fallback counter store. It mirrors the
// Redis key space and window semantics so a node degraded from the shared
// store keeps enforcing the same limits on its own traffic.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries: make(map[string]*memoryEntry),
	}
}

func (s *memoryStore) incr(key string, ttl time.Duration) (int64, time.Duration) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(ttl)}
		s.entries[key] = entry
	}
	entry.count++

	return entry.count, entry.expiresAt.Sub(now)
}

func (s *memoryStore) get(key string) (int64, time.Duration) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		return 0, 0
	}
	return entry.count, entry.expiresAt.Sub(now)
}

func (s *memoryStore) setFlag(key string, ttl time.Duration) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memoryEntry{count: 1, expiresAt: now.Add(ttl)}
}

func (s *memoryStore) flagTTL(key string) time.Duration {
	_, remaining := s.get(key)
	return remaining
}

func (s *memoryStore) del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// sweepLocked drops expired entries opportunistically so the map does not
// grow unbounded during a long Redis outage. Bounded per call.
func (s *memoryStore) sweepLocked(now time.Time) {
	const maxSweep = 64

	swept := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
		swept++
		if swept >= maxSweep {
			return
		}
	}
}
