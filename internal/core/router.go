package core

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"yack/server/internal/protocol"
)

// DefaultSendBuffer is the per-session outbound queue headroom beyond the
// connect snapshot.
const DefaultSendBuffer = 64

// UserDirectory is the user-store boundary the hub consults for presence
// flagging and enumeration. Credential checks live behind a separate
// Authenticator at the transport layer.
type UserDirectory interface {
	All() []protocol.UserStatus
	SetOnline(username string, online bool)
	Ensure(username string)
}

// Hub owns the shared mutable chat state: room logs, unread counters and the
// connection registry. Every transition runs as one critical section under mu,
// including outbound enqueue, so events for a room are observed in arrival
// order and a connect snapshot can never interleave with a concurrent write.
type Hub struct {
	mu        sync.Mutex
	rooms     *RoomStore
	unread    *UnreadTracker
	registry  *ConnectionRegistry
	directory UserDirectory
	engine    BroadcastEngine
	sendBuf   int
}

// NewHub returns a hub with empty state backed by the given directory.
func NewHub(directory UserDirectory) *Hub {
	return &Hub{
		rooms:     NewRoomStore(),
		unread:    NewUnreadTracker(),
		registry:  NewConnectionRegistry(),
		directory: directory,
		sendBuf:   DefaultSendBuffer,
	}
}

// ClientCount returns the number of live sessions.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Count()
}

// Connect registers a new session for an authenticated user, queues the full
// initialization snapshot on it and announces the updated presence list to
// everyone. The snapshot is taken under the state lock, so it is consistent
// with respect to concurrent writers; the session's buffer is sized to hold
// it entirely.
func (h *Hub) Connect(username string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	init := h.initEventsLocked(username)
	sess := &Session{
		ID:       uuid.NewString(),
		Username: username,
		Send:     make(chan protocol.Event, len(init)+h.sendBuf),
	}
	for _, ev := range init {
		sess.Send <- ev
	}

	h.registry.Register(sess)
	if len(h.registry.ConnectionsFor(username)) == 1 {
		h.directory.SetOnline(username, true)
	}
	h.engine.Deliver(protocol.Event{Type: protocol.TypeOnlineUsers, Users: h.directory.All()}, h.registry.All())
	h.engine.Deliver(protocol.Event{Type: protocol.TypeInitComplete}, []*Session{sess})

	slog.Info("user connected", "username", username, "session_id", sess.ID, "total_sessions", h.registry.Count())
	return sess
}

// initEventsLocked builds the connect snapshot: lobby history with recalled
// bodies redacted, the lobby unread count, then history and unread count for
// every private mirror the user is party to.
func (h *Hub) initEventsLocked(username string) []protocol.Event {
	init := []protocol.Event{
		{Type: protocol.TypeMessageHistory, Room: LobbyRoom, Messages: redact(h.rooms.Get(LobbyRoom))},
		{Type: protocol.TypeUnreadMessages, Room: LobbyRoom, Count: h.unread.Recompute(h.rooms, LobbyRoom, username)},
	}

	rooms := h.rooms.Rooms()
	sort.Strings(rooms)
	for _, room := range rooms {
		owner, other, ok := ParsePrivateRoom(room)
		if !ok || (owner != username && other != username) {
			continue
		}
		init = append(init,
			protocol.Event{Type: protocol.TypeMessageHistory, Room: room, Messages: redact(h.rooms.Get(room))},
			protocol.Event{Type: protocol.TypeUnreadMessages, Room: room, Count: h.unread.Recompute(h.rooms, room, other)},
		)
	}
	return init
}

// Disconnect tears a session down. The presence broadcast fires only when the
// user's last connection is gone; pending outbound events are dropped with the
// closed channel.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, remaining := h.registry.Unregister(sessionID)
	if sess == nil {
		return
	}
	close(sess.Send)
	if remaining == 0 {
		h.directory.SetOnline(sess.Username, false)
		h.engine.Deliver(protocol.Event{Type: protocol.TypeOnlineUsers, Users: h.directory.All()}, h.registry.All())
	}
	slog.Info("user disconnected", "username", sess.Username, "session_id", sessionID, "remaining", remaining)
}

// Dispatch interprets one inbound event from a session. Malformed events and
// events referencing unknown messages are dropped with a log line; nothing
// here is fatal and no error envelope goes back to the client.
func (h *Hub) Dispatch(sess *Session, ev protocol.Event) {
	switch ev.Type {
	case protocol.TypeMessage:
		if ev.Room != "" && ev.Room != LobbyRoom {
			slog.Warn("message to unsupported room dropped", "room", ev.Room, "username", sess.Username)
			return
		}
		h.SendLobbyMessage(sess.Username, ev.Body)
	case protocol.TypePrivateMessage:
		h.SendPrivateMessage(sess.Username, ev.To, ev.Body)
	case protocol.TypeMarkAsRead:
		h.MarkAsRead(sess.Username, ev.Room, ev.Scope)
	case protocol.TypeRecallMessage:
		h.Recall(sess.Username, ev.Room, ev.ID)
	case protocol.TypeUndoRecall:
		h.UndoRecall(sess.Username, ev.Room, ev.ID)
	default:
		slog.Warn("unsupported inbound event dropped", "type", ev.Type, "username", sess.Username)
	}
}

// SendLobbyMessage appends a lobby message with the sender pre-marked as a
// reader, then fans the message out to every connection and pushes the fresh
// unread count to every other user.
func (h *Hub) SendLobbyMessage(sender, body string) {
	if strings.TrimSpace(body) == "" {
		slog.Debug("empty lobby message dropped", "sender", sender)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	msg := &protocol.Message{
		Sender: sender,
		Body:   body,
		SentAt: time.Now().UnixMilli(),
		ReadBy: []string{sender},
	}
	if _, err := h.rooms.Append(LobbyRoom, msg); err != nil {
		slog.Warn("lobby append failed", "err", err)
		return
	}

	out := msg.Clone()
	h.engine.Deliver(protocol.Event{Type: protocol.TypeMessage, Room: LobbyRoom, Message: &out}, h.registry.All())

	for _, u := range h.directory.All() {
		if u.Username == sender {
			continue
		}
		count := h.unread.Recompute(h.rooms, LobbyRoom, u.Username)
		h.engine.Deliver(
			protocol.Event{Type: protocol.TypeUnreadMessages, Room: LobbyRoom, Count: count},
			h.registry.ConnectionsFor(u.Username),
		)
	}
	slog.Debug("lobby message", "id", msg.ID, "sender", sender)
}

// SendPrivateMessage writes a private message to both mirror logs in one
// critical section, sharing one message id, and delivers both views to each
// party. A self-addressed message writes a single mirror, is delivered exactly
// once and never touches unread counters.
func (h *Hub) SendPrivateMessage(sender, to, body string) {
	if strings.TrimSpace(to) == "" || strings.TrimSpace(body) == "" {
		slog.Debug("malformed private message dropped", "sender", sender, "to", to)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UnixMilli()
	outRoom := PrivateRoom(sender, to)
	msgOut := &protocol.Message{Sender: sender, Recipient: to, Body: body, SentAt: now}
	if _, err := h.rooms.Append(outRoom, msgOut); err != nil {
		slog.Warn("private append failed", "room", outRoom, "err", err)
		return
	}

	if sender == to {
		view := msgOut.Clone()
		h.engine.Deliver(
			protocol.Event{Type: protocol.TypePrivateMessage, Room: outRoom, Message: &view},
			h.registry.ConnectionsFor(sender),
		)
		slog.Debug("self private message", "id", msgOut.ID, "sender", sender)
		return
	}

	inRoom := PrivateRoom(to, sender)
	mirror := msgOut.Clone()
	msgIn := &mirror
	if _, err := h.rooms.Append(inRoom, msgIn); err != nil {
		slog.Warn("private mirror append failed", "room", inRoom, "err", err)
		return
	}

	targets := append(h.registry.ConnectionsFor(sender), h.registry.ConnectionsFor(to)...)
	outView, inView := msgOut.Clone(), msgIn.Clone()
	h.engine.Deliver(protocol.Event{Type: protocol.TypePrivateMessage, Room: outRoom, Message: &outView}, targets)
	h.engine.Deliver(protocol.Event{Type: protocol.TypePrivateMessage, Room: inRoom, Message: &inView}, targets)

	count := h.unread.Recompute(h.rooms, outRoom, to)
	h.engine.Deliver(protocol.Event{Type: protocol.TypeUnreadMessages, Room: outRoom, Count: count}, targets)

	slog.Debug("private message", "id", msgOut.ID, "sender", sender, "to", to)
}

// MarkAsRead handles the markAsRead event for either room kind. The reader is
// always the authenticated session user, never a client-supplied field.
func (h *Hub) MarkAsRead(reader, room, scope string) {
	if scope == protocol.ReadScopeGeneral || room == LobbyRoom {
		h.markLobbyRead(reader)
		return
	}
	h.markPrivateRead(reader, room)
}

// markLobbyRead adds the reader to the ReadBy set of every non-recalled lobby
// message, zeroes the reader's counter and broadcasts the per-message reader
// lists so every client can refresh its receipts.
func (h *Hub) markLobbyRead(reader string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := h.rooms.MarkRead(LobbyRoom, reader, func(m *protocol.Message) bool { return !m.Recalled })
	count := h.unread.Recompute(h.rooms, LobbyRoom, reader)

	h.engine.Deliver(
		protocol.Event{Type: protocol.TypeUnreadMessages, Room: LobbyRoom, Count: count},
		h.registry.ConnectionsFor(reader),
	)

	readBy := make([]protocol.MessageReadBy, 0, len(h.rooms.rooms[LobbyRoom]))
	for _, m := range h.rooms.rooms[LobbyRoom] {
		c := m.Clone()
		readBy = append(readBy, protocol.MessageReadBy{ID: c.ID, ReadBy: c.ReadBy})
	}
	h.engine.Deliver(protocol.Event{Type: protocol.TypeReadByUpdated, Room: LobbyRoom, ReadBy: readBy}, h.registry.All())

	slog.Debug("lobby marked read", "reader", reader, "messages_changed", changed)
}

// markPrivateRead flags the reader's received messages as read in both
// mirrors, matched by id, and notifies both parties. Messages the reader sent
// stay governed by the other party's read state.
func (h *Hub) markPrivateRead(reader, room string) {
	owner, other, ok := ParsePrivateRoom(room)
	if !ok || (reader != owner && reader != other) {
		slog.Warn("markAsRead for invalid private room dropped", "room", room, "reader", reader)
		return
	}
	peer := owner
	if reader == owner {
		peer = other
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	received := func(m *protocol.Message) bool { return m.Sender != reader }
	h.rooms.MarkRead(PrivateRoom(reader, peer), reader, received)
	if reader != peer {
		h.rooms.MarkRead(PrivateRoom(peer, reader), reader, received)
	}
	h.unread.Recompute(h.rooms, PrivateRoom(reader, peer), peer)
	h.unread.Recompute(h.rooms, PrivateRoom(peer, reader), reader)

	targets := h.registry.ConnectionsFor(reader)
	if peer != reader {
		targets = append(targets, h.registry.ConnectionsFor(peer)...)
	}
	h.engine.Deliver(protocol.Event{Type: protocol.TypePrivateMessageRead, Room: room, Reader: reader}, targets)

	slog.Debug("private room marked read", "room", room, "reader", reader)
}

// Recall hides a message's body for everyone who has not read it yet. Only the
// original sender may recall; recalling an already-recalled message is a
// complete no-op so concurrent recalls from two devices cannot double-adjust
// counters.
func (h *Hub) Recall(issuer, room string, id int64) {
	h.setRecalled(issuer, room, id, true)
}

// UndoRecall reinstates a recalled message, restoring counters to their
// pre-recall values when no read-state change happened in between.
func (h *Hub) UndoRecall(issuer, room string, id int64) {
	h.setRecalled(issuer, room, id, false)
}

func (h *Hub) setRecalled(issuer, room string, id int64, recalled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.rooms.find(room, id)
	if m == nil {
		slog.Warn("recall for unknown message dropped", "room", room, "id", id, "recalled", recalled)
		return
	}
	if m.Sender != issuer {
		slog.Warn("recall from non-sender rejected", "room", room, "id", id, "issuer", issuer, "sender", m.Sender)
		return
	}
	if m.Recalled == recalled {
		slog.Debug("recall no-op", "room", room, "id", id, "recalled", recalled)
		return
	}

	evType := protocol.TypeMessageRecalled
	if !recalled {
		evType = protocol.TypeMessageUndoRecalled
	}

	if room == LobbyRoom {
		h.rooms.SetRecalled(LobbyRoom, id, recalled)
		h.engine.Deliver(protocol.Event{Type: evType, Room: LobbyRoom, ID: id}, h.registry.All())
		for _, u := range h.directory.All() {
			before := h.unread.Count(LobbyRoom, u.Username)
			after := h.unread.Recompute(h.rooms, LobbyRoom, u.Username)
			if after != before {
				h.engine.Deliver(
					protocol.Event{Type: protocol.TypeUnreadMessages, Room: LobbyRoom, Count: after},
					h.registry.ConnectionsFor(u.Username),
				)
			}
		}
		slog.Info("lobby message recall", "id", id, "recalled", recalled, "issuer", issuer)
		return
	}

	if _, _, ok := ParsePrivateRoom(room); !ok {
		slog.Warn("recall for invalid room dropped", "room", room, "id", id)
		return
	}

	sender, receiver := m.Sender, m.Recipient
	h.rooms.SetRecalled(PrivateRoom(sender, receiver), id, recalled)
	if sender != receiver {
		if _, _, err := h.rooms.SetRecalled(PrivateRoom(receiver, sender), id, recalled); err != nil {
			slog.Error("mirror missing message during recall", "room", PrivateRoom(receiver, sender), "id", id, "err", err)
		}
	}

	targets := append(h.registry.ConnectionsFor(sender), h.registry.ConnectionsFor(receiver)...)
	if sender == receiver {
		targets = h.registry.ConnectionsFor(sender)
	}
	h.engine.Deliver(protocol.Event{Type: evType, Room: PrivateRoom(sender, receiver), ID: id}, targets)
	if sender != receiver {
		h.engine.Deliver(protocol.Event{Type: evType, Room: PrivateRoom(receiver, sender), ID: id}, targets)

		countRoom := PrivateRoom(sender, receiver)
		before := h.unread.Count(countRoom, receiver)
		after := h.unread.Recompute(h.rooms, countRoom, receiver)
		if after != before {
			h.engine.Deliver(
				protocol.Event{Type: protocol.TypeUnreadMessages, Room: countRoom, Count: after},
				h.registry.ConnectionsFor(receiver),
			)
		}
	}
	slog.Info("private message recall", "id", id, "recalled", recalled, "issuer", issuer)
}

// redact blanks the body of recalled messages in a history snapshot. Clients
// that received the body pre-recall re-render from the flag; late joiners
// never see it.
func redact(msgs []protocol.Message) []protocol.Message {
	for i := range msgs {
		if msgs[i].Recalled {
			msgs[i].Body = ""
		}
	}
	return msgs
}
