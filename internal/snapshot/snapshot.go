// Package snapshot holds the most recent published report. The store is
// passed explicitly to whoever needs it; there is no package-level state.
package snapshot

import (
	"sync"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

// State is a read-only view of the store.
type State struct {
	Version   uint64         `json:"version"`
	Report    *report.Report `json:"report"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Store struct {
	mu      sync.RWMutex
	version uint64
	current *report.Report
	updated time.Time
	byID    map[string]*report.Report
	order   []string
	keep    int
}

// New keeps the last keep reports addressable by id.
func New(keep int) *Store {
	if keep <= 0 {
		keep = 100
	}
	return &Store{
		byID: make(map[string]*report.Report),
		keep: keep,
	}
}

// Put stamps r with the next version and makes it current. r must not be
// modified afterwards.
func (s *Store) Put(r *report.Report) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	r.Version = s.version
	s.current = r
	s.updated = r.Timestamp

	s.byID[r.ID] = r
	s.order = append(s.order, r.ID)
	if len(s.order) > s.keep {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
	return s.version
}

// Latest returns false until the first Put.
func (s *Store) Latest() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return State{}, false
	}
	return State{Version: s.version, Report: s.current, UpdatedAt: s.updated}, true
}

func (s *Store) Get(id string) (*report.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	return r, ok
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
