// Package store is the sqlite-backed snapshot archive: named, timestamped
// copies of the exported chat state that an operator can restore later. It is
// an administrative side-channel — live chat state itself is in-memory only.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrSnapshotNotFound is returned when no snapshot exists for an ID.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMeta describes one archived snapshot.
type SnapshotMeta struct {
	ID        string
	Name      string
	SizeBytes int64
	CreatedAt time.Time
}

// Archive persists snapshot blobs in SQLite.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive database and runs migrations.
func Open(path string) (*Archive, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("snapshot archive opened", "path", path)
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	blob BLOB NOT NULL,
	size_bytes INTEGER NOT NULL CHECK(size_bytes >= 0),
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at_unix_ms);
`
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// Save stores one snapshot blob under a fresh id and returns its metadata.
func (a *Archive) Save(ctx context.Context, name string, blob []byte) (SnapshotMeta, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "snapshot"
	}
	meta := SnapshotMeta{
		ID:        uuid.NewString(),
		Name:      name,
		SizeBytes: int64(len(blob)),
		CreatedAt: time.Now().UTC(),
	}

	const q = `INSERT INTO snapshots (id, name, blob, size_bytes, created_at_unix_ms) VALUES (?, ?, ?, ?, ?)`
	if _, err := a.db.ExecContext(ctx, q, meta.ID, meta.Name, blob, meta.SizeBytes, meta.CreatedAt.UnixMilli()); err != nil {
		return SnapshotMeta{}, fmt.Errorf("insert snapshot: %w", err)
	}
	slog.Info("snapshot archived", "snapshot_id", meta.ID, "name", meta.Name, "size", meta.SizeBytes)
	return meta, nil
}

// Load returns one snapshot's metadata and blob by id.
func (a *Archive) Load(ctx context.Context, id string) (SnapshotMeta, []byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SnapshotMeta{}, nil, fmt.Errorf("snapshot id is required")
	}

	const q = `SELECT id, name, blob, size_bytes, created_at_unix_ms FROM snapshots WHERE id = ?`
	var (
		meta      SnapshotMeta
		blob      []byte
		createdMs int64
	)
	err := a.db.QueryRowContext(ctx, q, id).Scan(&meta.ID, &meta.Name, &blob, &meta.SizeBytes, &createdMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SnapshotMeta{}, nil, ErrSnapshotNotFound
		}
		return SnapshotMeta{}, nil, fmt.Errorf("query snapshot: %w", err)
	}
	meta.CreatedAt = time.UnixMilli(createdMs).UTC()
	return meta, blob, nil
}

// List returns all snapshot metadata, newest first.
func (a *Archive) List(ctx context.Context) ([]SnapshotMeta, error) {
	const q = `SELECT id, name, size_bytes, created_at_unix_ms FROM snapshots ORDER BY created_at_unix_ms DESC, id`
	rows, err := a.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotMeta
	for rows.Next() {
		var (
			meta      SnapshotMeta
			createdMs int64
		)
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.SizeBytes, &createdMs); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		meta.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, meta)
	}
	return out, rows.Err()
}

// Delete removes one snapshot by id.
func (a *Archive) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}
