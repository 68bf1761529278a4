// Package state holds per-(user, backend) conversation continuity for the
// stateful commands. Entries live for the process lifetime; there is no
// eviction.
package state

import (
	"sync"

	"github.com/google/uuid"
)

// ConversationState is the continuation handle for one user on one backend.
// LastTurnToken is opaque to the dispatcher; each backend decides what it
// stores there (a parent message id, a previous response id, ...).
type ConversationState struct {
	ConversationID string
	LastTurnToken  string
	FirstTurn      bool
}

type key struct {
	UserID  string
	Backend string
}

type Store struct {
	mu      sync.Mutex
	entries map[key]ConversationState
	locks   map[key]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		entries: make(map[key]ConversationState),
		locks:   make(map[key]*sync.Mutex),
	}
}

func fresh() ConversationState {
	return ConversationState{
		ConversationID: "",
		LastTurnToken:  uuid.NewString(),
		FirstTurn:      true,
	}
}

// Get returns the state for (userID, backend), creating a fresh entry on
// miss. Creation and lookup are indivisible with respect to other calls.
func (s *Store) Get(userID, backend string) ConversationState {
	k := key{userID, backend}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.entries[k]
	if !ok {
		st = fresh()
		s.entries[k] = st
	}
	return st
}

// Update replaces the state for (userID, backend) wholesale.
func (s *Store) Update(userID, backend string, st ConversationState) {
	k := key{userID, backend}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = st
}

// Reset drops (userID, backend) back to fresh state.
func (s *Store) Reset(userID, backend string) {
	k := key{userID, backend}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = fresh()
}

// Lock serializes callers on the same (userID, backend) key and returns the
// unlock function. The dispatcher holds this across its read-invoke-update
// sequence so rapid consecutive commands from one user cannot race on the
// continuation token. Different keys do not contend.
func (s *Store) Lock(userID, backend string) func() {
	k := key{userID, backend}

	s.mu.Lock()
	m, ok := s.locks[k]
	if !ok {
		m = &sync.Mutex{}
		s.locks[k] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
