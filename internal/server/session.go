package server

import (
	"github.com/dyluth/place/pkg/place"
)

// minSendQueue leaves room for LOGIN_SUCCESS and BOARD, which are queued
// together at login.
const minSendQueue = 4

// Session is a logged-in client: its unique name plus the outbound queue its
// connection's writer drains. The registry is the only producer on the
// queue; the queue is closed by the registry when the session is removed.
type Session struct {
	id    string
	name  string
	queue chan place.Message

	// guarded by the registry mutex
	queueClosed bool

	// kick terminates the session's connection; called outside the registry lock.
	kick func()
}

// NewSession creates an unregistered session. kick is invoked when the
// registry evicts the session (e.g. its queue overflowed) and may be nil.
func NewSession(id string, queueSize int, kick func()) *Session {
	if queueSize < minSendQueue {
		queueSize = minSendQueue
	}
	if kick == nil {
		kick = func() {}
	}
	return &Session{
		id:    id,
		queue: make(chan place.Message, queueSize),
		kick:  kick,
	}
}

// ID returns the connection-scoped identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the login name; empty until the session is registered.
func (s *Session) Name() string {
	return s.name
}

// Outbound is the queue of messages to write to the client, in order.
// It is closed once the session has been removed from the registry.
func (s *Session) Outbound() <-chan place.Message {
	return s.queue
}
