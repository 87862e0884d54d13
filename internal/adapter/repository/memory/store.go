package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kr1s57/ipreputation/internal/entity"
)

type usageKey struct {
	provider entity.Provider
	keyID    string
}

// Store keeps key usage, scan history and API keys in process memory.
// Every value is copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	usage   map[usageKey]*entity.KeyUsageState
	history []entity.AggregatedScanResult
	keys    entity.KeySet
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		usage: make(map[usageKey]*entity.KeyUsageState),
		keys:  make(entity.KeySet),
	}
}

// LoadKeyUsage returns the stored usage of a key, nil when absent
func (s *Store) LoadKeyUsage(_ context.Context, provider entity.Provider, keyID string) (*entity.KeyUsageState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.usage[usageKey{provider, keyID}]
	if !ok {
		return nil, nil
	}
	return copyUsage(state), nil
}

// SaveKeyUsage replaces the stored usage of a key
func (s *Store) SaveKeyUsage(_ context.Context, provider entity.Provider, keyID string, state *entity.KeyUsageState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage[usageKey{provider, keyID}] = copyUsage(state)
	return nil
}

// LoadHistory returns the stored scan collection
func (s *Store) LoadHistory(_ context.Context) ([]entity.AggregatedScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.AggregatedScanResult, 0, len(s.history))
	for i := range s.history {
		out = append(out, *s.history[i].Clone())
	}
	return out, nil
}

// SaveHistory replaces the stored scan collection
func (s *Store) SaveHistory(_ context.Context, scans []entity.AggregatedScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = make([]entity.AggregatedScanResult, 0, len(scans))
	for i := range scans {
		s.history = append(s.history, *scans[i].Clone())
	}
	return nil
}

// LoadKeys returns the stored key pools
func (s *Store) LoadKeys(_ context.Context) (entity.KeySet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.Clone(), nil
}

// SaveKeys replaces the stored key pools
func (s *Store) SaveKeys(_ context.Context, keys entity.KeySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys.Clone()
	return nil
}

func copyUsage(state *entity.KeyUsageState) *entity.KeyUsageState {
	out := &entity.KeyUsageState{
		WindowTimestamps: append([]time.Time(nil), state.WindowTimestamps...),
		DailyCounts:      make(map[string]int, len(state.DailyCounts)),
	}
	for day, n := range state.DailyCounts {
		out.DailyCounts[day] = n
	}
	return out
}
