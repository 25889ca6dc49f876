package core

import (
	"testing"

	"yack/server/internal/protocol"
)

func TestUnreadLobbyMatchesReadBySets(t *testing.T) {
	s := NewRoomStore()
	tr := NewUnreadTracker()

	s.Append(LobbyRoom, &protocol.Message{Sender: "alice", Body: "one", ReadBy: []string{"alice"}})
	s.Append(LobbyRoom, &protocol.Message{Sender: "bob", Body: "two", ReadBy: []string{"bob"}})
	s.Append(LobbyRoom, &protocol.Message{Sender: "alice", Body: "three", ReadBy: []string{"alice", "carol"}})

	if got := tr.Recompute(s, LobbyRoom, "alice"); got != 1 {
		t.Fatalf("alice unread = %d, want 1", got)
	}
	if got := tr.Recompute(s, LobbyRoom, "bob"); got != 2 {
		t.Fatalf("bob unread = %d, want 2", got)
	}
	if got := tr.Recompute(s, LobbyRoom, "carol"); got != 2 {
		t.Fatalf("carol unread = %d, want 2", got)
	}
}

func TestUnreadLobbyInvariantOverPrefixes(t *testing.T) {
	s := NewRoomStore()
	tr := NewUnreadTracker()

	senders := []string{"alice", "bob", "alice", "carol", "bob"}
	for i, sender := range senders {
		s.Append(LobbyRoom, &protocol.Message{Sender: sender, Body: "m", ReadBy: []string{sender}})

		// After each prefix the counter must equal the brute-force count.
		for _, u := range []string{"alice", "bob", "carol"} {
			want := 0
			for _, m := range s.Get(LobbyRoom) {
				if !m.Recalled && !hasReader(m, u) {
					want++
				}
			}
			if got := tr.Recompute(s, LobbyRoom, u); got != want {
				t.Fatalf("prefix %d user %s: got %d want %d", i+1, u, got, want)
			}
		}
	}
}

func hasReader(m protocol.Message, user string) bool {
	for _, r := range m.ReadBy {
		if r == user {
			return true
		}
	}
	return false
}

func TestUnreadIgnoresRecalledMessages(t *testing.T) {
	s := NewRoomStore()
	tr := NewUnreadTracker()

	m, _ := s.Append(LobbyRoom, &protocol.Message{Sender: "alice", Body: "x", ReadBy: []string{"alice"}})
	if got := tr.Recompute(s, LobbyRoom, "bob"); got != 1 {
		t.Fatalf("before recall: %d, want 1", got)
	}

	s.SetRecalled(LobbyRoom, m.ID, true)
	if got := tr.Recompute(s, LobbyRoom, "bob"); got != 0 {
		t.Fatalf("after recall: %d, want 0", got)
	}

	// Undo-recall reinstates the message in the countable set.
	s.SetRecalled(LobbyRoom, m.ID, false)
	if got := tr.Recompute(s, LobbyRoom, "bob"); got != 1 {
		t.Fatalf("after undo: %d, want 1", got)
	}
}

func TestUnreadPrivateAttributedToReceiverOnly(t *testing.T) {
	s := NewRoomStore()
	tr := NewUnreadTracker()
	room := PrivateRoom("alice", "bob")

	s.Append(room, &protocol.Message{Sender: "alice", Recipient: "bob", Body: "hey"})
	s.Append(room, &protocol.Message{Sender: "bob", Recipient: "alice", Body: "yo"})

	// In mirror private_alice_bob only bob accumulates, and only from
	// messages bob did not send.
	if got := tr.Recompute(s, room, "bob"); got != 1 {
		t.Fatalf("bob unread = %d, want 1", got)
	}
	if got := tr.Recompute(s, room, "alice"); got != 0 {
		t.Fatalf("alice unread in bob-attributed mirror = %d, want 0", got)
	}
}

func TestUnreadSelfConversationExempt(t *testing.T) {
	s := NewRoomStore()
	tr := NewUnreadTracker()
	room := PrivateRoom("alice", "alice")

	s.Append(room, &protocol.Message{Sender: "alice", Recipient: "alice", Body: "note to self"})
	if got := tr.Recompute(s, room, "alice"); got != 0 {
		t.Fatalf("self room unread = %d, want 0", got)
	}
}

func TestUnreadSnapshotForRoomIsCopy(t *testing.T) {
	s := NewRoomStore()
	tr := NewUnreadTracker()
	s.Append(LobbyRoom, &protocol.Message{Sender: "alice", Body: "x", ReadBy: []string{"alice"}})
	tr.Recompute(s, LobbyRoom, "bob")

	snap := tr.SnapshotForRoom(LobbyRoom)
	snap["bob"] = 99
	if got := tr.Count(LobbyRoom, "bob"); got != 1 {
		t.Fatalf("snapshot mutation leaked: %d", got)
	}
}
