// Package directory is the in-memory user store: registered usernames, their
// bcrypt password hashes and a live online flag. It backs both the hub's
// presence list and the authenticator's credential checks.
package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"yack/server/internal/protocol"
)

var (
	// ErrUserExists is returned when registering a taken username.
	ErrUserExists = errors.New("user already exists")
	// ErrUnknownUser is returned for lookups of unregistered usernames.
	ErrUnknownUser = errors.New("unknown user")
	// ErrBadCredentials is returned when a password check fails.
	ErrBadCredentials = errors.New("invalid credentials")
)

type user struct {
	passwordHash []byte
	online       bool
}

// Directory holds all registered users. Safe for concurrent use.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*user
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{users: make(map[string]*user)}
}

// Register adds a user with a bcrypt-hashed password. Usernames may not be
// empty or contain underscores, which are reserved as the private-room key
// separator.
func (d *Directory) Register(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	if strings.Contains(username, "_") {
		return fmt.Errorf("username must not contain underscores")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.users[username]; taken {
		return ErrUserExists
	}
	d.users[username] = &user{passwordHash: hash}
	slog.Info("user registered", "username", username, "total_users", len(d.users))
	return nil
}

// Authenticate checks a username/password pair against the stored hash.
func (d *Directory) Authenticate(username, password string) error {
	d.mu.RLock()
	u, ok := d.users[username]
	d.mu.RUnlock()
	if !ok {
		return ErrUnknownUser
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}

// Ensure adds a username with no credentials if it is not registered yet.
// Used by snapshot restore; such a user cannot log in until re-registered.
func (d *Directory) Ensure(username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; !ok {
		d.users[username] = &user{}
	}
}

// SetOnline flips a user's online flag. Unknown users are a no-op.
func (d *Directory) SetOnline(username string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[username]; ok {
		u.online = online
	}
}

// All returns every user with their online status, ordered by username.
func (d *Directory) All() []protocol.UserStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]protocol.UserStatus, 0, len(d.users))
	for name, u := range d.users {
		out = append(out, protocol.UserStatus{Username: name, Online: u.online})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
