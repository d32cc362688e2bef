//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	ea "github.com/panyam/eventauth"
)

// IdentityEntity is the Datastore entity for identities
type IdentityEntity struct {
	Key             *datastore.Key `datastore:"__key__"`
	Email           string         `datastore:"email"`
	Username        string         `datastore:"username"`
	PasswordHash    string         `datastore:"password_hash,noindex"`
	Provider        string         `datastore:"provider"`
	ProviderSubject string         `datastore:"provider_subject"`
	RefreshToken    string         `datastore:"refresh_token,noindex"`
	DateOfBirth     time.Time      `datastore:"date_of_birth,noindex"`
	Bio             string         `datastore:"bio,noindex"`
	AvatarPath      string         `datastore:"avatar_path,noindex"`
	CreatedAt       time.Time      `datastore:"created_at"`
	UpdatedAt       time.Time      `datastore:"updated_at"`
	Version         int            `datastore:"version"`
}

func (e *IdentityEntity) ToIdentity() *ea.Identity {
	return &ea.Identity{
		ID:              e.Key.ID,
		Email:           e.Email,
		Username:        e.Username,
		PasswordHash:    e.PasswordHash,
		Provider:        ea.Provider(e.Provider),
		ProviderSubject: e.ProviderSubject,
		RefreshToken:    e.RefreshToken,
		DateOfBirth:     e.DateOfBirth,
		Bio:             e.Bio,
		AvatarPath:      e.AvatarPath,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func NewIdentityToEntity(n ea.NewIdentity, key *datastore.Key, now time.Time) *IdentityEntity {
	return &IdentityEntity{
		Key:             key,
		Email:           n.Email,
		Username:        n.Username,
		PasswordHash:    n.PasswordHash,
		Provider:        string(n.Provider),
		ProviderSubject: n.ProviderSubject,
		DateOfBirth:     n.DateOfBirth,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

// MarkerEntity reserves a unique value for one identity
type MarkerEntity struct {
	IdentityID int64     `datastore:"identity_id,noindex"`
	CreatedAt  time.Time `datastore:"created_at,noindex"`
}
