package core

import (
	"yack/server/internal/protocol"
)

// Session is one live connection's server-side handle. Events queued on Send
// are drained by the connection's writer goroutine; the channel is closed when
// the session is unregistered.
type Session struct {
	ID       string
	Username string
	Send     chan protocol.Event
}

// ConnectionRegistry tracks live sessions keyed by session id, with a reverse
// index from username to that user's session set so multi-device users resolve
// in O(1). Not safe for concurrent use on its own; the Hub serializes access.
type ConnectionRegistry struct {
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
	}
}

// Register adds a session. The username is fixed for the session's lifetime.
func (r *ConnectionRegistry) Register(sess *Session) {
	r.sessions[sess.ID] = sess
	set := r.byUser[sess.Username]
	if set == nil {
		set = make(map[string]*Session)
		r.byUser[sess.Username] = set
	}
	set[sess.ID] = sess
}

// Unregister removes a session and returns the user's remaining connection
// count. Unknown session ids are a no-op reported as remaining = -1.
func (r *ConnectionRegistry) Unregister(sessionID string) (*Session, int) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, -1
	}
	delete(r.sessions, sessionID)
	set := r.byUser[sess.Username]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byUser, sess.Username)
	}
	return sess, len(set)
}

// ConnectionsFor returns the user's live sessions. Empty for offline users.
func (r *ConnectionRegistry) ConnectionsFor(username string) []*Session {
	set := r.byUser[username]
	out := make([]*Session, 0, len(set))
	for _, sess := range set {
		out = append(out, sess)
	}
	return out
}

// All returns every live session.
func (r *ConnectionRegistry) All() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Online reports whether the user has at least one live session.
func (r *ConnectionRegistry) Online(username string) bool {
	return len(r.byUser[username]) > 0
}

// Count returns the number of live sessions.
func (r *ConnectionRegistry) Count() int {
	return len(r.sessions)
}
