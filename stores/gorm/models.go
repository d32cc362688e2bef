//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ea "github.com/panyam/eventauth"
)

// IdentityModel is the GORM model for identities
type IdentityModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	Email           string    `gorm:"size:320;not null;uniqueIndex"`
	Username        string    `gorm:"size:64;not null;uniqueIndex"`
	PasswordHash    *string   `gorm:"size:255"`
	Provider        string    `gorm:"size:32;not null;uniqueIndex:idx_provider_subject"`
	ProviderSubject *string   `gorm:"size:255;uniqueIndex:idx_provider_subject"`
	RefreshToken    *string   `gorm:"size:1024"`
	DateOfBirth     time.Time `gorm:"not null"`
	Bio             string    `gorm:"size:1024"`
	AvatarPath      string    `gorm:"size:512"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (IdentityModel) TableName() string {
	return "identities"
}

func (m *IdentityModel) ToIdentity() *ea.Identity {
	return &ea.Identity{
		ID:              m.ID,
		Email:           m.Email,
		Username:        m.Username,
		PasswordHash:    deref(m.PasswordHash),
		Provider:        ea.Provider(m.Provider),
		ProviderSubject: deref(m.ProviderSubject),
		RefreshToken:    deref(m.RefreshToken),
		DateOfBirth:     m.DateOfBirth,
		Bio:             m.Bio,
		AvatarPath:      m.AvatarPath,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func NewIdentityToModel(n ea.NewIdentity) *IdentityModel {
	return &IdentityModel{
		Email:           n.Email,
		Username:        n.Username,
		PasswordHash:    nullable(n.PasswordHash),
		Provider:        string(n.Provider),
		ProviderSubject: nullable(n.ProviderSubject),
		DateOfBirth:     n.DateOfBirth,
	}
}

// nullable maps "" to NULL
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
