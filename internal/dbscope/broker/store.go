package broker

import (
	"errors"
	"sync"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// ErrSealed is returned by Store.Receive once the log has been sealed.
var ErrSealed = errors.New("event log is sealed")

// Store is the persistence subscriber for one request. Appends are
// serialized under a single mutex, and each event is stamped with a sequence
// number that matches its position in the log.
type Store struct {
	mu      sync.Mutex
	events  []message.Event
	next    uint64
	sealed  bool
	dropped int
}

// NewStore returns an empty, unsealed store.
func NewStore() *Store {
	return &Store{}
}

// Receive appends e to the log.
func (s *Store) Receive(e message.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		s.dropped++
		return ErrSealed
	}
	s.next++
	s.events = append(s.events, message.Stamp(e, s.next))
	return nil
}

// Seal freezes the log. Later publishes are dropped and counted.
func (s *Store) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

func (s *Store) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Events returns the ordered events belonging to family.
func (s *Store) Events(family message.Family) []message.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []message.Event
	for _, e := range s.events {
		if e.Kind().Family() == family {
			out = append(out, e)
		}
	}
	return out
}

// All returns a copy of the whole log.
func (s *Store) All() []message.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Dropped reports how many events arrived after Seal.
func (s *Store) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
