package eventauth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider is the authentication path of an identity
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
)

// Valid reports whether p is one of the known providers
func (p Provider) Valid() bool {
	return p == ProviderLocal || p == ProviderGoogle
}

var (
	// ErrIdentityNotFound is returned by stores when no identity matches a lookup
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrIdentityExists is returned by stores when a create would violate a
	// uniqueness constraint (email, username or provider subject)
	ErrIdentityExists = errors.New("identity already exists")
)

// Identity is the durable user record.
//
// Empty PasswordHash, ProviderSubject and RefreshToken mean "not set".
// A LOCAL identity always has a PasswordHash and never a ProviderSubject;
// a federated identity is the reverse.
type Identity struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	Username        string    `json:"username"`
	PasswordHash    string    `json:"password_hash,omitempty"`
	Provider        Provider  `json:"provider"`
	ProviderSubject string    `json:"provider_subject,omitempty"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	DateOfBirth     time.Time `json:"date_of_birth"`
	Bio             string    `json:"bio,omitempty"`
	AvatarPath      string    `json:"avatar_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsLocal returns true if the identity can authenticate with a password
func (i *Identity) IsLocal() bool {
	return i.Provider == ProviderLocal && i.PasswordHash != ""
}

// NewIdentity holds the fields needed to create an identity
type NewIdentity struct {
	Email           string
	PasswordHash    string // empty for federated identities
	Username        string
	DateOfBirth     time.Time
	Provider        Provider
	ProviderSubject string // empty for local identities
}

// Validate checks the local/federated exclusivity invariant before a create
func (n *NewIdentity) Validate() error {
	if n.Email == "" || n.Username == "" {
		return errors.New("email and username are required")
	}
	switch n.Provider {
	case ProviderLocal:
		if n.PasswordHash == "" || n.ProviderSubject != "" {
			return errors.New("local identity requires a password hash and no provider subject")
		}
	case ProviderGoogle:
		if n.PasswordHash != "" || n.ProviderSubject == "" {
			return errors.New("federated identity requires a provider subject and no password hash")
		}
	default:
		return errors.New("unknown provider: " + string(n.Provider))
	}
	return nil
}

// NormalizeEmail is the canonical form emails are stored and looked up in
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IdentityStore is the repository the auth core persists identities through.
// Lookups return ErrIdentityNotFound when nothing matches.
type IdentityStore interface {
	// CreateIdentity persists a new identity and returns it with its assigned ID.
	// Returns ErrIdentityExists on any uniqueness violation.
	CreateIdentity(ctx context.Context, params NewIdentity) (*Identity, error)

	GetIdentityByID(ctx context.Context, id int64) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	GetIdentityByUsername(ctx context.Context, username string) (*Identity, error)
	GetIdentityByProviderSubject(ctx context.Context, provider Provider, subject string) (*Identity, error)

	// SetRefreshToken overwrites the stored refresh token; "" clears it
	SetRefreshToken(ctx context.Context, id int64, token string) error

	// SetPasswordHash replaces the stored password hash
	SetPasswordHash(ctx context.Context, id int64, hash string) error

	// IsUsernameFree returns true if no identity holds the username
	IsUsernameFree(ctx context.Context, username string) (bool, error)
}

// ProviderClaims are the identity attributes asserted by a federated provider
// after its token passed signature, audience and expiry checks.
type ProviderClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// ErrInvalidProviderToken is returned by verifiers for any token that fails
// signature, audience, expiry or subject checks
var ErrInvalidProviderToken = errors.New("invalid provider token")

// IDTokenVerifier validates a raw provider ID token
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawToken string) (*ProviderClaims, error)
}

// RateLimiter limits login attempts per key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
