package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pulsepoll/voteguard/internal/models"
)

// MemoryStore is a mutex-guarded TTLStore for tests and single-node
// development. The clock is injectable so TTL expiry can be simulated
// without sleeping.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	counter   int64
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		e = memoryEntry{expiresAt: s.now().Add(ttl)}
	}
	e.counter++
	s.entries[key] = e
	return e.counter, nil
}

func (s *MemoryStore) GetCounter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return 0, nil
	}
	return e.counter, nil
}

func (s *MemoryStore) SetIfAbsentWithTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{counter: 1, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key)
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{data: data, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) GetJSON(ctx context.Context, key string, dest any) error {
	s.mu.Lock()
	e, ok := s.live(key)
	s.mu.Unlock()

	if !ok || e.data == nil {
		return models.ErrNotFound
	}
	return json.Unmarshal(e.data, dest)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Sweep drops expired entries. The background manager calls this
// periodically so long-lived processes don't accumulate dead keys.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// live returns the entry for key if present and unexpired. Caller must
// hold the lock.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
