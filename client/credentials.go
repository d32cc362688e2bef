// Package client is a Go client for an eventauth server. It keeps the
// session cookies the server issues, sends the access token as a bearer
// header and renews it through the refresh endpoint when it expires.
package client

import (
	"sync"
	"time"
)

// ServerCredential is the session held for one server
type ServerCredential struct {
	IdentityID       int64     `json:"identity_id"`
	Email            string    `json:"email,omitempty"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsExpired returns true if the access token has expired
func (c *ServerCredential) IsExpired() bool {
	return time.Now().After(c.AccessExpiresAt)
}

// IsExpiringSoon returns true if the access token expires within the given duration
func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return time.Now().Add(within).After(c.AccessExpiresAt)
}

// HasRefreshToken returns true if a refresh token is held and still live
func (c *ServerCredential) HasRefreshToken() bool {
	if c.RefreshToken == "" {
		return false
	}
	return c.RefreshExpiresAt.IsZero() || time.Now().Before(c.RefreshExpiresAt)
}

// CredentialStore defines the interface for storing and retrieving credentials
type CredentialStore interface {
	// GetCredential returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)

	SetCredential(serverURL string, cred *ServerCredential) error

	RemoveCredential(serverURL string) error

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

// MemoryCredentialStore keeps credentials for the life of the process
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]*ServerCredential
}

// NewMemoryCredentialStore creates an empty in-memory store
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]*ServerCredential)}
}

func (s *MemoryCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[serverURL], nil
}

func (s *MemoryCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[serverURL] = cred
	return nil
}

func (s *MemoryCredentialStore) RemoveCredential(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, serverURL)
	return nil
}

func (s *MemoryCredentialStore) Save() error { return nil }
