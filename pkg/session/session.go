// Package session owns session identity and lifetime for the query
// gateway. Each session binds one transport handle to one private tool
// dispatcher; the Manager is the only component allowed to touch session
// storage.
package session

import (
	"net/http"
	"time"
)

// Dispatcher is the per-session protocol server a session is bound to.
// Exactly one dispatcher exists per session and it is never shared.
type Dispatcher interface {
	// Transport returns the HTTP handler that speaks the protocol for
	// this session.
	Transport() http.Handler

	// Close releases the dispatcher and its transport.
	Close() error
}

// Factory constructs the dispatcher for a freshly minted session.
type Factory func(sessionID string) (Dispatcher, error)

// Session represents one caller's live connection.
type Session struct {
	// ID is the unguessable session identifier.
	ID string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// lastActive is guarded by the owning Manager's lock.
	lastActive time.Time

	dispatcher Dispatcher

	// done is closed when the session is removed, ending any open
	// streams bound to it.
	done chan struct{}
}

// Transport returns the session's bound transport handle.
func (s *Session) Transport() http.Handler {
	return s.dispatcher.Transport()
}

// Dispatcher returns the session's private dispatcher.
func (s *Session) Dispatcher() Dispatcher {
	return s.dispatcher
}

// Done is closed when the session has been removed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
