package core

import "yack/server/internal/protocol"

// UnreadTracker keeps per-room per-user unread counters. Counters are always
// recomputed from the room log, never adjusted incrementally, so they cannot
// drift from the read-state flags on the stored messages. Like RoomStore it
// relies on the Hub's lock for concurrency safety.
type UnreadTracker struct {
	counts map[string]map[string]int
}

// NewUnreadTracker returns an empty tracker.
func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{counts: make(map[string]map[string]int)}
}

// countable reports whether a message contributes to user's unread count in
// its room. Lobby messages count until the user appears in ReadBy; private
// mirror messages count for the party that did not send them until IsRead.
// Recalled messages never count, in either room kind.
func countable(room string, m *protocol.Message, user string) bool {
	if m.Recalled {
		return false
	}
	if room == LobbyRoom {
		return !m.HasReader(user)
	}
	return m.Sender != user && !m.IsRead
}

// Recompute derives user's counter for room from the log and stores it.
// Self-conversations (owner == other party) never accumulate unread.
func (t *UnreadTracker) Recompute(store *RoomStore, room, user string) int {
	if owner, other, ok := ParsePrivateRoom(room); ok {
		// Unread in a mirror is attributed to the non-owner party only.
		if user != other || owner == other {
			return t.set(room, user, 0)
		}
	}
	n := 0
	for _, m := range store.rooms[room] {
		if countable(room, m, user) {
			n++
		}
	}
	return t.set(room, user, n)
}

func (t *UnreadTracker) set(room, user string, n int) int {
	byUser := t.counts[room]
	if byUser == nil {
		byUser = make(map[string]int)
		t.counts[room] = byUser
	}
	byUser[user] = n
	return n
}

// Count returns the stored counter without recomputation.
func (t *UnreadTracker) Count(room, user string) int {
	return t.counts[room][user]
}

// SnapshotForRoom returns a copy of room's per-user counters.
func (t *UnreadTracker) SnapshotForRoom(room string) map[string]int {
	out := make(map[string]int, len(t.counts[room]))
	for user, n := range t.counts[room] {
		out[user] = n
	}
	return out
}

// Snapshot returns a copy of every counter, keyed by room then user.
func (t *UnreadTracker) Snapshot() map[string]map[string]int {
	out := make(map[string]map[string]int, len(t.counts))
	for room := range t.counts {
		out[room] = t.SnapshotForRoom(room)
	}
	return out
}

// Reset drops every counter.
func (t *UnreadTracker) Reset() {
	t.counts = make(map[string]map[string]int)
}
