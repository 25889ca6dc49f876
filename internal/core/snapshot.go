package core

import (
	"log/slog"

	"yack/server/internal/protocol"
)

// StateBlob is the full exportable chat state. Unread counters are included
// for inspection but are derived data: Restore recomputes them from the logs
// rather than trusting the blob.
type StateBlob struct {
	Rooms  map[string][]protocol.Message `json:"rooms"`
	Unread map[string]map[string]int     `json:"unread"`
	Users  []protocol.UserStatus         `json:"users"`
}

// Snapshot returns a point-in-time copy of all state, taken under the same
// lock that guards normal mutations so an export can never observe a
// half-applied transition.
func (h *Hub) Snapshot() StateBlob {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make(map[string][]protocol.Message)
	for _, room := range h.rooms.Rooms() {
		rooms[room] = h.rooms.Get(room)
	}
	return StateBlob{
		Rooms:  rooms,
		Unread: h.unread.Snapshot(),
		Users:  h.directory.All(),
	}
}

// Restore atomically swaps in the blob's state. Counters are recomputed from
// the restored logs, and every user named in the blob is ensured to exist in
// the directory. Live connections are left alone; their next events operate
// on the new state.
func (h *Hub) Restore(blob StateBlob) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make(map[string][]*protocol.Message, len(blob.Rooms))
	for room, log := range blob.Rooms {
		msgs := make([]*protocol.Message, 0, len(log))
		for i := range log {
			m := log[i].Clone()
			m.Room = room
			msgs = append(msgs, &m)
		}
		rooms[room] = msgs
	}
	h.rooms.replace(rooms)

	for _, u := range blob.Users {
		h.directory.Ensure(u.Username)
	}

	h.unread.Reset()
	users := h.directory.All()
	for _, room := range h.rooms.Rooms() {
		if _, other, ok := ParsePrivateRoom(room); ok {
			h.unread.Recompute(h.rooms, room, other)
			continue
		}
		for _, u := range users {
			h.unread.Recompute(h.rooms, room, u.Username)
		}
	}
	slog.Info("state restored", "rooms", len(rooms), "users", len(blob.Users))
}

// Reset clears every room log and counter. Registered users and live
// connections survive.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rooms.Reset()
	h.unread.Reset()
	slog.Info("chat state reset")
}
