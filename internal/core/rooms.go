package core

import (
	"errors"
	"strings"
	"sync/atomic"

	"yack/server/internal/protocol"
)

// LobbyRoom is the single shared public room every user implicitly belongs to.
const LobbyRoom = "general"

const privatePrefix = "private_"

var (
	// ErrInvalidRoom is returned for a malformed (empty) room key.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrMessageNotFound is returned when a message id is absent from a room's log.
	ErrMessageNotFound = errors.New("message not found")
)

// PrivateRoom returns the mirror key for owner's view of the conversation with other.
func PrivateRoom(owner, other string) string {
	return privatePrefix + owner + "_" + other
}

// ParsePrivateRoom splits a private mirror key into its owner and other party.
// Usernames may not contain underscores (enforced at registration), so the
// first two separators are authoritative.
func ParsePrivateRoom(room string) (owner, other string, ok bool) {
	if !strings.HasPrefix(room, privatePrefix) {
		return "", "", false
	}
	parts := strings.SplitN(room[len(privatePrefix):], "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// RoomStore maps room keys to append-only message logs. It is not safe for
// concurrent use on its own; the Hub serializes all access behind one lock.
type RoomStore struct {
	rooms  map[string][]*protocol.Message
	nextID atomic.Int64
}

// NewRoomStore returns an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string][]*protocol.Message)}
}

// Append stores a message at the tail of room's log, creating the log if this
// is the room's first message. A zero ID is replaced with the next monotonic
// id; a non-zero ID is kept as-is so a mirrored write shares its twin's id.
func (s *RoomStore) Append(room string, msg *protocol.Message) (*protocol.Message, error) {
	if strings.TrimSpace(room) == "" {
		return nil, ErrInvalidRoom
	}
	if msg.ID == 0 {
		msg.ID = s.nextID.Add(1)
	}
	msg.Room = room
	s.rooms[room] = append(s.rooms[room], msg)
	return msg, nil
}

// Get returns a deep-copied snapshot of room's log, oldest first. A room that
// was never written to yields an empty slice; pure reads never create a log.
func (s *RoomStore) Get(room string) []protocol.Message {
	log := s.rooms[room]
	out := make([]protocol.Message, 0, len(log))
	for _, m := range log {
		out = append(out, m.Clone())
	}
	return out
}

// find returns the stored message with the given id, or nil.
func (s *RoomStore) find(room string, id int64) *protocol.Message {
	for _, m := range s.rooms[room] {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// SetRecalled flips one message's recalled flag in place. The returned bool
// reports whether the flag actually changed; setting the same value twice is
// a no-op.
func (s *RoomStore) SetRecalled(room string, id int64, recalled bool) (*protocol.Message, bool, error) {
	m := s.find(room, id)
	if m == nil {
		return nil, false, ErrMessageNotFound
	}
	if m.Recalled == recalled {
		return m, false, nil
	}
	m.Recalled = recalled
	return m, true, nil
}

// MarkRead applies read-state to every message in room matching the
// predicate: lobby messages get reader appended to their ReadBy set, private
// mirror messages get IsRead set. Returns how many messages changed.
func (s *RoomStore) MarkRead(room, reader string, match func(*protocol.Message) bool) int {
	changed := 0
	lobby := room == LobbyRoom
	for _, m := range s.rooms[room] {
		if !match(m) {
			continue
		}
		if lobby {
			if m.HasReader(reader) {
				continue
			}
			m.ReadBy = append(m.ReadBy, reader)
		} else {
			if m.IsRead {
				continue
			}
			m.IsRead = true
		}
		changed++
	}
	return changed
}

// Rooms returns all room keys that currently hold a log.
func (s *RoomStore) Rooms() []string {
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

// Reset drops every log. The id counter keeps running so ids stay unique for
// the process lifetime.
func (s *RoomStore) Reset() {
	s.rooms = make(map[string][]*protocol.Message)
}

// replace swaps in a full set of logs, used by snapshot restore. The id
// counter is bumped past the highest restored id.
func (s *RoomStore) replace(rooms map[string][]*protocol.Message) {
	s.rooms = rooms
	var max int64
	for _, log := range rooms {
		for _, m := range log {
			if m.ID > max {
				max = m.ID
			}
		}
	}
	for {
		cur := s.nextID.Load()
		if cur >= max || s.nextID.CompareAndSwap(cur, max) {
			return
		}
	}
}
