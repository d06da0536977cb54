package auth

import (
	"context"
	"sync"
)

// State is a device-flow session state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateAuthorized
	StateFailed
	StateExpired
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateAuthorized:
		return "authorized"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateAuthorized || s == StateFailed || s == StateExpired || s == StateCanceled
}

// Session is one run of the device flow.
type Session struct {
	ID string

	userCode        string
	verificationURI string

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newSession(id string) *Session {
	return &Session{ID: id, state: StateIdle, done: make(chan struct{})}
}

// UserCode is the code the user types at VerificationURI. Empty if the flow could not start.
func (s *Session) UserCode() string { return s.userCode }

// VerificationURI is where the user enters UserCode.
func (s *Session) VerificationURI() string { return s.verificationURI }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the session ended, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), s.Err()
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = state
	s.err = err
	close(s.done)
}
