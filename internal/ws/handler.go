package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"yack/server/internal/auth"
	"yack/server/internal/core"
	"yack/server/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 5 * time.Second

// Handler owns websocket transport for the chat hub.
type Handler struct {
	hub      *core.Hub
	verifier auth.Authenticator
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to hub, gated by verifier.
func NewHandler(hub *core.Hub, verifier auth.Authenticator) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, c.QueryParam("token"))
	return nil
}

// serveConn authenticates the connection, registers it with the hub and pumps
// events both ways until the socket dies. An invalid token closes the socket
// before any state is touched.
func (h *Handler) serveConn(conn *websocket.Conn, token string) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	username, err := h.verifier.Verify(token)
	if err != nil {
		slog.Warn("websocket rejected", "err", err)
		h.writeDirectError(conn, "authentication failed")
		return
	}

	sess := h.hub.Connect(username)
	defer h.hub.Disconnect(sess.ID)

	go func() {
		for out := range sess.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}()

	for {
		var in protocol.Event
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		h.hub.Dispatch(sess, in)
	}
}

func (h *Handler) writeDirectError(conn *websocket.Conn, errMsg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(protocol.Event{Type: protocol.TypeError, Error: errMsg})
}
