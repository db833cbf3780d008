package cache

import (
	"context"
	"sync"
	"time"

	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// MemoryStore keeps results in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	done    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	result    *types.Result
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore that evicts expired entries every
// cleanupEvery.
func NewMemoryStore(cleanupEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*cacheEntry),
		done:    make(chan struct{}),
	}

	go s.cleanup(cleanupEvery)

	return s
}

// Close stops the background cleanup goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*types.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || !time.Now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.result, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, result *types.Result, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = &cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup(every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired(time.Now())
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// NopStore never stores anything. Requests are still collapsed.
type NopStore struct{}

// Get implements Store.
func (NopStore) Get(context.Context, string) (*types.Result, bool, error) { return nil, false, nil }

// Set implements Store.
func (NopStore) Set(context.Context, string, *types.Result, time.Duration) error { return nil }

// Delete implements Store.
func (NopStore) Delete(context.Context, string) error { return nil }
