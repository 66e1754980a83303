package api

import (
	"maps"
	"sync"
)

// StatTransactions counts every transport call made by a client.
const StatTransactions = "transactions"

// Stats holds named usage counters. Counters only grow; a fresh client
// starts from zero.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewStats creates a Stats with the given counters registered at zero.
func NewStats(names ...string) *Stats {
	s := &Stats{counters: make(map[string]int64)}
	s.Register(names...)
	return s
}

// Register adds counters that are not yet known.
func (s *Stats) Register(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		if _, ok := s.counters[n]; !ok {
			s.counters[n] = 0
		}
	}
}

// Add increments name by delta.
func (s *Stats) Add(name string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
}

// Inc increments name by one.
func (s *Stats) Inc(name string) {
	s.Add(name, 1)
}

// Get returns the current value of name.
func (s *Stats) Get(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.counters)
}
