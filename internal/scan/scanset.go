package scan

import (
	"slices"
	"sync"
)

// ScanSet holds the identities already accepted in one session run.
type ScanSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewScanSet creates an empty set.
func NewScanSet() *ScanSet {
	return &ScanSet{ids: make(map[string]struct{})}
}

// IsScanned reports whether id is in the set.
func (s *ScanSet) IsScanned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Mark adds id. Marking twice is a no-op.
func (s *ScanSet) Mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// TryMark adds id and returns true, or returns false when id was already present.
func (s *ScanSet) TryMark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Unmark removes id so a later tick can retry it.
func (s *ScanSet) Unmark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Reset empties the set.
func (s *ScanSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}

func (s *ScanSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// IDs returns a sorted snapshot of the marked identities.
func (s *ScanSet) IDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	return ids
}
