package pipeline

import (
	"sync"
	"time"
)

// State is a user's position in the search-and-delivery flow.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateAwaitingSelection
	StateQuotaCheck
	StateDownloading
	StateDelivering
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateQuotaCheck:
		return "quota_check"
	case StateDownloading:
		return "downloading"
	case StateDelivering:
		return "delivering"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type session struct {
	mu         sync.Mutex
	state      State
	busy       bool
	generation uint64

	// publishMu makes the generation check and the result-set write one step.
	publishMu sync.Mutex

	// Guarded by Coordinator.mu.
	refs     int
	lastUsed time.Time
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// beginSearch starts a new search generation. A search during a download
// leaves the download's state alone.
func (s *session) beginSearch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if !s.busy {
		s.state = StateSearching
	}
	return s.generation
}

func (s *session) isLatest(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// endSearch moves to next if gen is still the latest search and no
// download owns the state.
func (s *session) endSearch(gen uint64, next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen && !s.busy {
		s.state = next
	}
}

// abandonSearch returns a stuck search state to Idle.
func (s *session) abandonSearch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy && s.state == StateSearching {
		s.state = StateIdle
	}
}

// acquire claims the per-user download slot.
func (s *session) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	s.state = StateQuotaCheck
	return true
}

func (s *session) set(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// finish frees the download slot and returns to Idle.
func (s *session) finish() {
	s.mu.Lock()
	s.busy = false
	s.state = StateIdle
	s.mu.Unlock()
}
