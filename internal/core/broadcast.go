package core

import (
	"log/slog"

	"yack/server/internal/protocol"
)

// BroadcastEngine fans one outbound event out to a set of sessions. Enqueue is
// non-blocking: a session whose buffer is full drops the event rather than
// stalling the caller, which holds the Hub lock. A closed channel (session
// torn down concurrently with delivery) is swallowed the same way.
type BroadcastEngine struct{}

// Deliver queues the event on each session. Per-session failures are isolated;
// one full or closed queue never affects the other recipients.
func (BroadcastEngine) Deliver(ev protocol.Event, sessions []*Session) {
	sent := 0
	for _, sess := range sessions {
		if enqueue(sess.Send, ev) {
			sent++
		} else {
			slog.Warn("outbound event dropped", "type", ev.Type, "session_id", sess.ID, "username", sess.Username)
		}
	}
	slog.Debug("deliver", "type", ev.Type, "recipients", sent, "targets", len(sessions))
}

func enqueue(ch chan protocol.Event, ev protocol.Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
