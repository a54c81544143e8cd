package decode

import "sync"

// LatestSlot holds at most one picture. Store overwrites, nothing is queued.
type LatestSlot struct {
	mu      sync.Mutex
	picture *Picture
	stores  uint64
}

func (s *LatestSlot) Store(p Picture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.picture = &p
	s.stores++
}

// Load returns the latest picture, if any. The slot keeps it.
func (s *LatestSlot) Load() (Picture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.picture == nil {
		return Picture{}, false
	}
	return *s.picture, true
}

// Stores is the number of pictures written, including overwritten ones.
func (s *LatestSlot) Stores() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores
}
