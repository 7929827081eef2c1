// Package confirm implements the confirmation gate backing high-risk tool
// execution. A pending confirmation is a used-once capability token: it is
// created when the action is first proposed, marked confirmed by an
// out-of-band approval, and consumed exactly once when the same command is
// resubmitted with the same id.
package confirm

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrNotFound        = errors.New("confirmation not found")
	ErrNotConfirmed    = errors.New("confirmation not approved")
	ErrCommandMismatch = errors.New("confirmation command mismatch")
)

// Pending is one awaiting approval.
type Pending struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the process-wide keyed map of pending confirmations. Safe for
// concurrent use; Consume is atomic with respect to concurrent resubmission
// of the same id so a high-risk command can never execute twice.
type Store struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// NewStore creates an empty store. Construct one per process and pass it by
// handle; no distributed coordination is provided.
func NewStore() *Store {
	return &Store{
		pending: make(map[string]*Pending),
	}
}

// Create registers a new pending confirmation for the command and returns
// it with a fresh id.
func (s *Store) Create(command string) *Pending {
	p := &Pending{
		ID:        uuid.New().String(),
		Command:   command,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.pending[p.ID] = p
	s.mu.Unlock()

	return p
}

// Confirm marks the pending confirmation as approved. Called after the
// caller obtained human approval out-of-band.
func (s *Store) Confirm(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "unknown confirmation id", goerr.V("id", id))
	}
	p.Confirmed = true
	return nil
}

// Consume verifies the id against its stored command and deletes it in one
// step. An id that is absent, unapproved, or bound to a different command
// never authorizes execution.
func (s *Store) Consume(id, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return goerr.Wrap(ErrNotFound, "unknown confirmation id", goerr.V("id", id))
	}
	if p.Command != command {
		return goerr.Wrap(ErrCommandMismatch, "command does not match confirmation",
			goerr.V("id", id), goerr.V("command", command))
	}
	if !p.Confirmed {
		return goerr.Wrap(ErrNotConfirmed, "confirmation has not been approved", goerr.V("id", id))
	}

	delete(s.pending, id)
	return nil
}

// Get returns a copy of the pending confirmation, if present.
func (s *Store) Get(id string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// Len reports the number of outstanding confirmations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
