//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	ea "github.com/panyam/eventauth"
)

// AutoMigrate runs database migrations for the identities table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&IdentityModel{})
}

// IdentityStore implements ea.IdentityStore using GORM
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) CreateIdentity(ctx context.Context, params ea.NewIdentity) (*ea.Identity, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	model := NewIdentityToModel(params)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicate(err) {
			return nil, ea.ErrIdentityExists
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return model.ToIdentity(), nil
}

func (s *IdentityStore) GetIdentityByID(ctx context.Context, id int64) (*ea.Identity, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *IdentityStore) GetIdentityByEmail(ctx context.Context, email string) (*ea.Identity, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *IdentityStore) GetIdentityByUsername(ctx context.Context, username string) (*ea.Identity, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *IdentityStore) GetIdentityByProviderSubject(ctx context.Context, provider ea.Provider, subject string) (*ea.Identity, error) {
	if subject == "" {
		return nil, ea.ErrIdentityNotFound
	}
	return s.first(ctx, "provider = ? AND provider_subject = ?", string(provider), subject)
}

func (s *IdentityStore) SetRefreshToken(ctx context.Context, id int64, token string) error {
	return s.update(ctx, id, "refresh_token", nullable(token))
}

func (s *IdentityStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	if hash == "" {
		return errors.New("password hash cannot be empty")
	}
	return s.update(ctx, id, "password_hash", hash)
}

func (s *IdentityStore) IsUsernameFree(ctx context.Context, username string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&IdentityModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

func (s *IdentityStore) first(ctx context.Context, query string, args ...any) (*ea.Identity, error) {
	var model IdentityModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ea.ErrIdentityNotFound
		}
		return nil, err
	}
	return model.ToIdentity(), nil
}

// update sets one column. updated_at always changes, so drivers that report
// changed rather than matched rows still count the row.
func (s *IdentityStore) update(ctx context.Context, id int64, column string, value any) error {
	result := s.db.WithContext(ctx).Model(&IdentityModel{}).
		Where("id = ?", id).
		Updates(map[string]any{column: value, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ea.ErrIdentityNotFound
	}
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}
