// Package dedup provides the claim set used to guarantee that a URL is
// processed at most once.
//
// The same type backs two sets with different lifetimes: the asset cache,
// which lives as long as the process and is shared by every harvest, and
// the visited-page set, which is created fresh for each harvest.
package dedup

import "sync"

// Set records claimed keys. The zero value is not usable; use New.
type Set struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{claimed: make(map[string]struct{})}
}

// TryClaim records key and returns true if it was not yet claimed.
// It returns false for every later call with the same key. Keys are
// compared as exact strings.
func (s *Set) TryClaim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claimed[key]; ok {
		return false
	}
	s.claimed[key] = struct{}{}
	return true
}

// Contains reports whether key has been claimed.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.claimed[key]
	return ok
}

// Len returns the number of claimed keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.claimed)
}
