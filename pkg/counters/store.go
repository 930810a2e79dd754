// Package counters implements the in-memory counter registry shared by the
// host program and the stats socket.
package counters

import "sync"

// Store maps counter keys to signed values behind a single mutex.
//
// Every operation takes the same lock, so increments are never lost and a
// Snapshot never observes a half-applied update. Keys are only ever added;
// Reset zeroes values but keeps the keys.
type Store struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{values: make(map[string]int64)}
}

// Increment adds delta to key, treating a missing key as zero, and returns the new value.
func (s *Store) Increment(key string, delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] += delta

	return s.values[key]
}

// Set overwrites or creates key with value.
func (s *Store) Set(key string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
}

// Reset sets every existing counter to zero.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.values {
		s.values[key] = 0
	}
}

// Get returns the value of key and whether it has ever been touched.
func (s *Store) Get(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]

	return value, ok
}

// Len returns the number of known keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.values)
}

// Snapshot returns a copy of all counters taken under the lock.
// The returned map is owned by the caller.
func (s *Store) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.values))
	for key, value := range s.values {
		out[key] = value
	}

	return out
}
