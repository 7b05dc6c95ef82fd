package allocator

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore keeps counters in process memory. Tests only; serve
// always wires PgCounterStore.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]int)}
}

func (s *MemoryCounterStore) Increment(_ context.Context, doctorID int64, date time.Time) (int, error) {
	key := CounterKey(doctorID, Day(date))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key]++
	return s.counters[key], nil
}

// Last returns the highest number issued for the key, 0 when none was.
func (s *MemoryCounterStore) Last(doctorID int64, date time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[CounterKey(doctorID, Day(date))]
}
