package history

import (
	"sync"

	"github.com/kjstillabower/weather-history-service/internal/models"
)

// Store is the append-only observation history of one dashboard session.
// Insertion order is append order; nothing is deduplicated or sorted.
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	items   []models.Observation
	version uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Append adds obs at the end of the history.
func (s *Store) Append(obs models.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, obs.Clone())
	s.version++
}

// All returns a snapshot of the history in append order.
// The returned slice is owned by the caller.
func (s *Store) All() []models.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Observation, len(s.items))
	for i, obs := range s.items {
		out[i] = obs.Clone()
	}
	return out
}

// Clear drops every observation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.version++
}

// Len returns the number of stored observations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Version changes on every Append and Clear. Equal versions imply equal snapshots.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SnapshotAt returns the snapshot together with the version it was taken at.
func (s *Store) SnapshotAt() ([]models.Observation, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Observation, len(s.items))
	for i, obs := range s.items {
		out[i] = obs.Clone()
	}
	return out, s.version
}
