package verify

import (
	"sync"
	"time"
)

// ResultStore holds outcomes keyed by test identifier.
type ResultStore interface {
	Put(testID string, outcome Outcome)
	Get(testID string) (Outcome, bool)
	ScheduleCleanup(testID string, delay time.Duration)
}

type storeEntry struct {
	outcome     Outcome
	updatedAt   time.Time
	completedAt time.Time
	evictAt     time.Time
	timer       *time.Timer
}

// MemoryStore is an in-process ResultStore. Entries live until a scheduled
// cleanup fires or a sweep evicts them; nothing is persisted.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry
	now     func() time.Time
	stats   MemoryStoreStats
}

// MemoryStoreStats counts store activity.
type MemoryStoreStats struct {
	Puts      int64
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*storeEntry),
		now:     time.Now,
	}
}

// Put publishes outcome for testID, replacing any previous state.
func (s *MemoryStore) Put(testID string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[testID]
	if !ok {
		e = &storeEntry{}
		s.entries[testID] = e
	}
	e.outcome = outcome.clone()
	e.updatedAt = now
	if outcome.Terminal() && e.completedAt.IsZero() {
		e.completedAt = now
	}
	s.stats.Puts++
	s.stats.Size = int64(len(s.entries))
}

// Get returns a copy of the outcome for testID.
func (s *MemoryStore) Get(testID string) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[testID]
	if !ok {
		s.stats.Misses++
		return Outcome{}, false
	}
	s.stats.Hits++
	return e.outcome.clone(), true
}

// ScheduleCleanup deletes a terminal entry after delay. In-progress entries
// are left alone and repeated calls keep the first schedule.
func (s *MemoryStore) ScheduleCleanup(testID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[testID]
	if !ok || !e.outcome.Terminal() || e.timer != nil {
		return
	}
	e.evictAt = s.now().Add(delay)
	e.timer = time.AfterFunc(delay, func() {
		s.evict(testID, e)
	})
}

// Sweep evicts entries whose cleanup time has passed and terminal entries
// completed more than retention ago. It returns the number of evictions.
func (s *MemoryStore) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !e.outcome.Terminal() {
			continue
		}
		expired := !e.evictAt.IsZero() && !now.Before(e.evictAt)
		stale := retention > 0 && !e.completedAt.IsZero() && now.Sub(e.completedAt) >= retention
		if expired || stale {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(s.entries, id)
			removed++
		}
	}
	s.stats.Evictions += int64(removed)
	s.stats.Size = int64(len(s.entries))
	return removed
}

// Stats returns a snapshot of store counters.
func (s *MemoryStore) Stats() MemoryStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Size = int64(len(s.entries))
	return st
}

// Close stops pending cleanup timers.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

func (s *MemoryStore) evict(testID string, expected *storeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[testID]; ok && e == expected {
		delete(s.entries, testID)
		s.stats.Evictions++
		s.stats.Size = int64(len(s.entries))
	}
}
