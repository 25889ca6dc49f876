package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"yack/server/internal/auth"
	"yack/server/internal/core"
	"yack/server/internal/directory"
	"yack/server/internal/protocol"
)

type testEnv struct {
	server *httptest.Server
	hub    *core.Hub
	tokens *auth.TokenService
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()

	dir := directory.New()
	for _, u := range users {
		if err := dir.Register(u, "pw"); err != nil {
			t.Fatalf("register %s: %v", u, err)
		}
	}
	hub := core.NewHub(dir)
	tokens := auth.NewTokenService(dir)

	e := echo.New()
	NewHandler(hub, tokens).Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, hub: hub, tokens: tokens}
}

func (env *testEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	token, err := env.tokens.Login(user, "pw")
	if err != nil {
		t.Fatalf("login %s: %v", user, err)
	}
	return env.dialToken(t, token)
}

func (env *testEnv) dialToken(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events off conn until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ protocol.EventType) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev protocol.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if ev.Type == typ {
			return ev
		}
	}
}

func writeMsg(t *testing.T, conn *websocket.Conn, ev protocol.Event) {
	t.Helper()
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("write %q: %v", ev.Type, err)
	}
}

func TestConnectRequiresValidToken(t *testing.T) {
	env := newTestEnv(t, "alice")

	conn := env.dialToken(t, "bogus")
	ev := readUntil(t, conn, protocol.TypeError)
	if ev.Error == "" {
		t.Fatalf("expected error payload, got %#v", ev)
	}

	// The socket closes without touching hub state.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var next protocol.Event
	if err := conn.ReadJSON(&next); err == nil {
		t.Fatalf("expected close after auth failure, got %#v", next)
	}
	if env.hub.ClientCount() != 0 {
		t.Fatalf("rejected connect registered a session: %d", env.hub.ClientCount())
	}
}

func TestConnectDeliversInitSequence(t *testing.T) {
	env := newTestEnv(t, "alice")

	conn := env.dial(t, "alice")
	history := readUntil(t, conn, protocol.TypeMessageHistory)
	if history.Room != core.LobbyRoom {
		t.Fatalf("first history room = %q", history.Room)
	}
	readUntil(t, conn, protocol.TypeUnreadMessages)
	users := readUntil(t, conn, protocol.TypeOnlineUsers)
	if len(users.Users) != 1 || !users.Users[0].Online {
		t.Fatalf("presence payload: %#v", users.Users)
	}
	readUntil(t, conn, protocol.TypeInitComplete)
}

func TestLobbyMessageOverSocket(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	readUntil(t, alice, protocol.TypeInitComplete)
	readUntil(t, bob, protocol.TypeInitComplete)

	writeMsg(t, alice, protocol.Event{Type: protocol.TypeMessage, Body: "hello over the wire"})

	got := readUntil(t, bob, protocol.TypeMessage)
	if got.Message == nil || got.Message.Body != "hello over the wire" || got.Message.Sender != "alice" {
		t.Fatalf("unexpected message: %#v", got.Message)
	}
	unread := readUntil(t, bob, protocol.TypeUnreadMessages)
	if unread.Room != core.LobbyRoom || unread.Count != 1 {
		t.Fatalf("unread: %#v", unread)
	}
}

func TestPrivateMessageAndMarkAsReadOverSocket(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	readUntil(t, alice, protocol.TypeInitComplete)
	readUntil(t, bob, protocol.TypeInitComplete)

	writeMsg(t, alice, protocol.Event{Type: protocol.TypePrivateMessage, To: "bob", Body: "psst"})

	got := readUntil(t, bob, protocol.TypePrivateMessage)
	if got.Message == nil || got.Message.Body != "psst" {
		t.Fatalf("unexpected private message: %#v", got.Message)
	}
	unread := readUntil(t, bob, protocol.TypeUnreadMessages)
	if unread.Count != 1 {
		t.Fatalf("unread: %#v", unread)
	}

	writeMsg(t, bob, protocol.Event{
		Type:  protocol.TypeMarkAsRead,
		Room:  core.PrivateRoom("bob", "alice"),
		Scope: protocol.ReadScopePrivate,
	})
	read := readUntil(t, alice, protocol.TypePrivateMessageRead)
	if read.Reader != "bob" {
		t.Fatalf("read receipt: %#v", read)
	}
}

func TestSenderIdentityComesFromToken(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	readUntil(t, alice, protocol.TypeInitComplete)
	readUntil(t, bob, protocol.TypeInitComplete)

	// A client cannot spoof the sender field; the session identity wins.
	writeMsg(t, alice, protocol.Event{Type: protocol.TypeMessage, Body: "who am i"})
	got := readUntil(t, bob, protocol.TypeMessage)
	if got.Message.Sender != "alice" {
		t.Fatalf("sender = %q, want alice", got.Message.Sender)
	}
}

func TestDisconnectBroadcastsPresence(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	readUntil(t, alice, protocol.TypeInitComplete)
	readUntil(t, bob, protocol.TypeInitComplete)
	// Bob's connect triggers a presence update on alice's socket too.
	readUntil(t, alice, protocol.TypeOnlineUsers)

	bob.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no offline presence update")
		}
		ev := readUntil(t, alice, protocol.TypeOnlineUsers)
		for _, u := range ev.Users {
			if u.Username == "bob" && !u.Online {
				return
			}
		}
	}
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, "alice")

	conn := env.dial(t, "alice")
	readUntil(t, conn, protocol.TypeInitComplete)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The hub must clean the session up once the read loop dies.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not cleaned up: %d", env.hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
