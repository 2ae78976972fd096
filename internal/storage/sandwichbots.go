package storage

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SandwichBotSet is the "rare writer (learning cycle), frequent reader"
// set from spec.md §5: addresses the Submitter has previously observed
// front-running or sandwiching this engine's transactions.
type SandwichBotSet struct {
	mu      sync.RWMutex
	bots    map[common.Address]time.Time // address -> first observed
}

// NewSandwichBotSet returns an empty set.
func NewSandwichBotSet() *SandwichBotSet {
	return &SandwichBotSet{bots: make(map[common.Address]time.Time)}
}

// Known reports whether addr has previously been flagged.
func (s *SandwichBotSet) Known(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bots[addr]
	return ok
}

// Learn records addr as a sandwich bot if not already known. Called once
// per learning cycle, never from the hot read path.
func (s *SandwichBotSet) Learn(addr common.Address, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bots[addr]; !exists {
		s.bots[addr] = observedAt
	}
}

// Len returns the number of known bot addresses.
func (s *SandwichBotSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bots)
}

// Snapshot returns a copy of the known set, for periodic persistence.
func (s *SandwichBotSet) Snapshot() map[common.Address]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[common.Address]time.Time, len(s.bots))
	for addr, t := range s.bots {
		out[addr] = t
	}
	return out
}
