package protocol

// EventType discriminates every event exchanged over the websocket.
type EventType string

// Inbound event types (client → server).
const (
	TypeMessage        EventType = "message"
	TypePrivateMessage EventType = "privateMessage"
	TypeMarkAsRead     EventType = "markAsRead"
	TypeRecallMessage  EventType = "recallMessage"
	TypeUndoRecall     EventType = "undoRecallMessage"
)

// Outbound event types (server → client). TypeMessage and TypePrivateMessage
// are reused on the way out, carrying the stored message.
const (
	TypeUnreadMessages      EventType = "unreadMessages"
	TypeMessageHistory      EventType = "messageHistory"
	TypeMessageRecalled     EventType = "messageRecalled"
	TypeMessageUndoRecalled EventType = "messageUndoRecalled"
	TypePrivateMessageRead  EventType = "privateMessageRead"
	TypeReadByUpdated       EventType = "messagesReadByUpdated"
	TypeOnlineUsers         EventType = "onlineUsers"
	TypeInitComplete        EventType = "initializationComplete"
	TypeError               EventType = "error"
)

// Read-scope values for the markAsRead event.
const (
	ReadScopeGeneral = "general"
	ReadScopePrivate = "private"
)

// Event is the JSON envelope exchanged over the websocket. Exactly the fields
// relevant to Type are populated; the rest stay empty and are omitted.
type Event struct {
	Type EventType `json:"event"`

	Room  string `json:"room,omitempty"`
	To    string `json:"to,omitempty"`
	Body  string `json:"body,omitempty"`
	Scope string `json:"type,omitempty"` // markAsRead: "general" or "private"
	ID    int64  `json:"id,omitempty"`
	Count int    `json:"count,omitempty"`

	Message  *Message        `json:"message,omitempty"`
	Messages []Message       `json:"messages,omitempty"`
	ReadBy   []MessageReadBy `json:"read_by,omitempty"`
	Users    []UserStatus    `json:"users,omitempty"`
	Reader   string          `json:"reader,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Message is one stored chat message. Lobby messages track the set of readers
// in ReadBy; private mirror messages use the single IsRead flag instead.
type Message struct {
	ID        int64    `json:"id"`
	Room      string   `json:"room"`
	Sender    string   `json:"sender"`
	Recipient string   `json:"to,omitempty"`
	Body      string   `json:"body"`
	SentAt    int64    `json:"sent_at"` // Unix ms
	Recalled  bool     `json:"recalled"`
	ReadBy    []string `json:"read_by,omitempty"`
	IsRead    bool     `json:"is_read,omitempty"`
}

// HasReader reports whether user is in the message's ReadBy set.
func (m *Message) HasReader(user string) bool {
	for _, r := range m.ReadBy {
		if r == user {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to the serialization layer.
func (m *Message) Clone() Message {
	out := *m
	if m.ReadBy != nil {
		out.ReadBy = make([]string, len(m.ReadBy))
		copy(out.ReadBy, m.ReadBy)
	}
	return out
}

// MessageReadBy carries one lobby message's reader set for the
// messagesReadByUpdated event.
type MessageReadBy struct {
	ID     int64    `json:"id"`
	ReadBy []string `json:"read_by"`
}

// UserStatus is one directory entry in the onlineUsers payload.
type UserStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}
