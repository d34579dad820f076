package session

import "sync/atomic"

// Session is the (sessionID, userID) pair identifying one logical
// conversation. Immutable; a new session requires a new connection, and
// reconnects reuse the same identifiers.
type Session struct {
	ID     string
	UserID string
}

// State holds the session identity and the awaiting-clarification sub-state.
// The flag is set when the orchestrator asks a clarifying question and decides
// how the next user utterance is framed on the wire.
type State struct {
	session  Session
	awaiting atomic.Bool
}

// NewState creates session state for the given identity.
func NewState(sessionID, userID string) *State {
	return &State{session: Session{ID: sessionID, UserID: userID}}
}

// Session returns the immutable session identity.
func (s *State) Session() Session {
	return s.session
}

// MarkAwaitingClarification records that the orchestrator is waiting for the
// user to answer a clarifying question.
func (s *State) MarkAwaitingClarification() {
	s.awaiting.Store(true)
}

// ConsumeClarification atomically reads and clears the clarification flag.
// It returns true exactly once per clarification event; a second call without
// an intervening clarification returns false.
func (s *State) ConsumeClarification() bool {
	return s.awaiting.Swap(false)
}

// AbandonClarification clears the flag without consuming it, used when a
// terminal event arrives before the user responds.
func (s *State) AbandonClarification() {
	s.awaiting.Store(false)
}

// AwaitingClarification reports the flag without clearing it.
func (s *State) AwaitingClarification() bool {
	return s.awaiting.Load()
}
