// Package session holds per-user wizard state for in-progress multi-step
// operations. Sessions live for the process lifetime only; a restart drops
// in-flight wizards, which is acceptable since the only consequence is the
// admin re-entering data.
package session

import (
	"errors"
	"maps"
	"sync"
)

// Wizard identifies which multi-step operation a session belongs to.
type Wizard string

const (
	WizardAddCategory  Wizard = "add_category"
	WizardAddCourse    Wizard = "add_course"
	WizardEditCourse   Wizard = "edit_course"
	WizardEditCategory Wizard = "edit_category"
)

// Step identifies the current step within a wizard.
type Step string

const (
	StepAwaitingTitle       Step = "awaiting_title"
	StepChoosingCategory    Step = "choosing_category"
	StepAwaitingDescription Step = "awaiting_description"
	StepAwaitingPrice       Step = "awaiting_price"
	StepAwaitingLink        Step = "awaiting_link"
	StepChoosingField       Step = "choosing_field"
	StepAwaitingValue       Step = "awaiting_value"
	StepAwaitingNewTitle    Step = "awaiting_new_title"

	// StepCompleting marks a terminal step whose store write is in flight.
	// No input is accepted in this state; duplicates of the final message
	// find the step already taken.
	StepCompleting Step = "completing"
)

// ErrNoSession is returned when an operation requires an active session.
var ErrNoSession = errors.New("no active session")

// Session is a snapshot of a user's wizard state.
type Session struct {
	Wizard Wizard
	Step   Step
	Fields map[string]string
}

type state struct {
	wizard Wizard
	step   Step
	fields map[string]string
}

// Store keeps one session per user, keyed by the user's chat identity.
// All operations are safe for concurrent use; Update runs its closure under
// the user's lock so a step's read-modify-write cannot interleave with a
// near-simultaneous duplicate message.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*state
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: map[string]*state{}}
}

// Begin starts a new wizard for the user, replacing any active session.
// It reports whether a previous session was discarded.
func (s *Store) Begin(userID string, wizard Wizard, step Step) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, replaced = s.sessions[userID]
	s.sessions[userID] = &state{
		wizard: wizard,
		step:   step,
		fields: map[string]string{},
	}
	return replaced
}

// Current returns the user's active wizard and step, if any.
func (s *Store) Current(userID string) (Wizard, Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return "", "", false
	}
	return st.wizard, st.step, true
}

// SetStep advances the user's session to step.
func (s *Store) SetStep(userID string, step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return ErrNoSession
	}
	st.step = step
	return nil
}

// PutField stores one piece of accumulated wizard input.
func (s *Store) PutField(userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return ErrNoSession
	}
	st.fields[key] = value
	return nil
}

// Fields returns a copy of the accumulated input for the user.
func (s *Store) Fields(userID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return map[string]string{}
	}
	return maps.Clone(st.fields)
}

// Clear drops the user's session. Safe to call when none is active.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Update runs fn against the user's session snapshot atomically. Mutations
// made to the snapshot are written back before the lock is released. If fn
// returns false the session is cleared instead.
func (s *Store) Update(userID string, fn func(*Session) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return ErrNoSession
	}
	snap := &Session{Wizard: st.wizard, Step: st.step, Fields: st.fields}
	if keep := fn(snap); !keep {
		delete(s.sessions, userID)
		return nil
	}
	st.step = snap.Step
	return nil
}
