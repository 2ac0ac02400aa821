// Package auth verifies login credentials and issues opaque session tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when the username is unknown or the
// password does not match. The two cases are indistinguishable to callers.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator checks a username and password.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// StaticAuthenticator checks credentials against a fixed set of bcrypt hashes.
type StaticAuthenticator struct {
	hashes map[string][]byte
	// dummy is compared against for unknown users so both paths cost one bcrypt check.
	dummy []byte
}

// NewStaticAuthenticator creates an authenticator from username -> bcrypt hash.
func NewStaticAuthenticator(users map[string]string) (*StaticAuthenticator, error) {
	hashes := make(map[string][]byte, len(users))
	for name, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid bcrypt hash: %w", name, err)
		}
		hashes[name] = []byte(hash)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare authenticator: %w", err)
	}

	return &StaticAuthenticator{hashes: hashes, dummy: dummy}, nil
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(_ context.Context, username, password string) error {
	hash, ok := a.hashes[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummy, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Len returns the number of configured users.
func (a *StaticAuthenticator) Len() int {
	return len(a.hashes)
}

// HashPassword returns a bcrypt hash suitable for the auth.users setting.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Session is an issued login token.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"-"`
}

// DefaultTokenTTL is how long a session stays valid.
const DefaultTokenTTL = 24 * time.Hour

// SessionStore keeps issued tokens in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a store whose tokens expire after ttl.
// A non-positive ttl uses DefaultTokenTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &SessionStore{
		sessions: make(map[string]Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue creates a new session for username.
func (s *SessionStore) Issue(username string) *Session {
	sess := Session{
		Token:     uuid.NewString(),
		Username:  username,
		ExpiresAt: s.now().Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	return &sess
}

// Resolve returns the username for a live token.
func (s *SessionStore) Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || subtle.ConstantTimeCompare([]byte(sess.Token), []byte(token)) != 1 {
		return "", false
	}

	if !s.now().Before(sess.ExpiresAt) {
		s.Revoke(token)
		return "", false
	}
	return sess.Username, true
}

// Revoke removes a token.
func (s *SessionStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Sweep drops expired sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, including expired ones not yet swept.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
