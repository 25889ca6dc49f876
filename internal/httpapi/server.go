package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"yack/server/internal/auth"
	"yack/server/internal/core"
	"yack/server/internal/directory"
	"yack/server/internal/protocol"
	"yack/server/internal/store"
	"yack/server/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	hub     *core.Hub
	dir     *directory.Directory
	tokens  *auth.TokenService
	archive *store.Archive
}

// New constructs an Echo app with websocket, user and admin routes. The
// archive may be nil, in which case the snapshot endpoints are not mounted.
func New(hub *core.Hub, dir *directory.Directory, tokens *auth.TokenService, archive *store.Archive) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, hub: hub, dir: dir, tokens: tokens, archive: archive}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)

	s.echo.POST("/api/users/register", s.handleRegister)
	s.echo.POST("/api/users/login", s.handleLogin)
	s.echo.GET("/api/users", s.handleUsers)

	s.echo.GET("/api/admin/export", s.handleExport)
	s.echo.POST("/api/admin/import", s.handleImport)
	s.echo.POST("/api/admin/reset", s.handleReset)
	if s.archive != nil {
		s.echo.POST("/api/admin/snapshots", s.handleSnapshotSave)
		s.echo.GET("/api/admin/snapshots", s.handleSnapshotList)
		s.echo.POST("/api/admin/snapshots/:id/restore", s.handleSnapshotRestore)
	}

	ws.NewHandler(s.hub, s.tokens).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: s.hub.ClientCount(),
	})
}

type stateResponse struct {
	Clients int                   `json:"clients"`
	Users   []protocol.UserStatus `json:"users"`
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, stateResponse{
		Clients: s.hub.ClientCount(),
		Users:   s.dir.All(),
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.dir.Register(req.Username, req.Password); err != nil {
		if errors.Is(err, directory.ErrUserExists) {
			return echo.NewHTTPError(http.StatusConflict, "user already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"message": "user registered"})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	token, err := s.tokens.Login(req.Username, req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dir.All())
}

func (s *Server) handleExport(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Snapshot())
}

func (s *Server) handleImport(c echo.Context) error {
	var blob core.StateBlob
	if err := c.Bind(&blob); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid state blob")
	}
	s.hub.Restore(blob)
	return c.JSON(http.StatusOK, map[string]string{"message": "state imported"})
}

func (s *Server) handleReset(c echo.Context) error {
	s.hub.Reset()
	return c.JSON(http.StatusOK, map[string]string{"message": "state reset"})
}

type snapshotRequest struct {
	Name string `json:"name"`
}

type snapshotResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

func toSnapshotResponse(meta store.SnapshotMeta) snapshotResponse {
	return snapshotResponse{
		ID:        meta.ID,
		Name:      meta.Name,
		SizeBytes: meta.SizeBytes,
		CreatedAt: meta.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) handleSnapshotSave(c echo.Context) error {
	var req snapshotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	blob, err := json.Marshal(s.hub.Snapshot())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("encode snapshot: %v", err))
	}
	meta, err := s.archive.Save(c.Request().Context(), req.Name, blob)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("archive snapshot: %v", err))
	}
	return c.JSON(http.StatusCreated, toSnapshotResponse(meta))
}

func (s *Server) handleSnapshotList(c echo.Context) error {
	metas, err := s.archive.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("list snapshots: %v", err))
	}
	out := make([]snapshotResponse, 0, len(metas))
	for _, meta := range metas {
		out = append(out, toSnapshotResponse(meta))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSnapshotRestore(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "snapshot id is required")
	}

	_, blob, err := s.archive.Load(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSnapshotNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "snapshot not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("load snapshot: %v", err))
	}

	var state core.StateBlob
	if err := json.Unmarshal(blob, &state); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("decode snapshot: %v", err))
	}
	s.hub.Restore(state)
	return c.JSON(http.StatusOK, map[string]string{"message": "snapshot restored"})
}
