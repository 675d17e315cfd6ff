// Package dedup tracks which paths have already been recorded in the
// batch currently being staged, so a burst of repeated events on the
// same path collapses to a single line.
//
// Grounded on original_source/fuse/set.cpp: an SfsSet wraps a
// std::unordered_set<std::string> behind a pthread_mutex_t and exposes
// add-or-report-exists plus clear. A Go map guarded by sync.Mutex gives
// the same O(1) membership check without hand-rolling a hash set, and
// matches the mutex-guarded-map style recentfile.go and done.go already
// use in the teacher tree.
package dedup

import "sync"

// Set is a thread-safe collection of paths seen since the last Clear.
type Set struct {
	mu      sync.Mutex
	entries map[string]struct{}
}

// NewSet returns an empty Set ready to use.
func NewSet() *Set {
	return &Set{entries: make(map[string]struct{})}
}

// Add inserts path into the set and reports whether it was already
// present. Mirrors sfs_set_add's "returns 1 if the element already
// exists" contract: the caller uses the return value to decide whether
// the path still needs to be written to the current batch.
func (s *Set) Add(path string) (alreadyPresent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[path]; ok {
		return true
	}
	s.entries[path] = struct{}{}
	return false
}

// Clear empties the set. Called whenever a batch is rotated out, since
// dedup only needs to hold within the lifetime of one staging file.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]struct{})
}

// Len reports the number of distinct paths currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
