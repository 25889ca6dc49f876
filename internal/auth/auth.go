// Package auth issues and verifies the opaque session tokens that gate
// websocket connects. Tokens are random, held server-side and mapped back to
// the username they were issued for.
package auth

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"yack/server/internal/directory"
)

// ErrInvalidToken is returned when a token is unknown or revoked.
var ErrInvalidToken = errors.New("invalid token")

// Authenticator resolves a token to a user identity, or fails.
type Authenticator interface {
	Verify(token string) (string, error)
}

// TokenService checks credentials against the directory and keeps the live
// token table. Safe for concurrent use.
type TokenService struct {
	dir *directory.Directory

	mu     sync.RWMutex
	tokens map[string]string // token → username
}

// NewTokenService returns a service backed by the given directory.
func NewTokenService(dir *directory.Directory) *TokenService {
	return &TokenService{dir: dir, tokens: make(map[string]string)}
}

// Login verifies the password and issues a fresh token. Earlier tokens for
// the same user stay valid so additional devices can hold their own.
func (s *TokenService) Login(username, password string) (string, error) {
	if err := s.dir.Authenticate(username, password); err != nil {
		return "", err
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = username
	s.mu.Unlock()
	slog.Info("token issued", "username", username)
	return token, nil
}

// Verify resolves a token to its username.
func (s *TokenService) Verify(token string) (string, error) {
	s.mu.RLock()
	username, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return "", ErrInvalidToken
	}
	return username, nil
}

// Revoke invalidates one token. Unknown tokens are a no-op.
func (s *TokenService) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
