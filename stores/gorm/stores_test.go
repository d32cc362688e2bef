//go:build !wasm
// +build !wasm

package gorm_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ea "github.com/panyam/eventauth"
	gormstore "github.com/panyam/eventauth/stores/gorm"
)

func setupStore(t *testing.T) *gormstore.IdentityStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identities.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gormstore.AutoMigrate(db))
	return gormstore.NewIdentityStore(db)
}

func localIdentity(email, username string) ea.NewIdentity {
	return ea.NewIdentity{
		Email:        email,
		Username:     username,
		PasswordHash: "$argon2id$hash",
		DateOfBirth:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Provider:     ea.ProviderLocal,
	}
}

func googleIdentity(email, username, subject string) ea.NewIdentity {
	return ea.NewIdentity{
		Email:           email,
		Username:        username,
		DateOfBirth:     time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC),
		Provider:        ea.ProviderGoogle,
		ProviderSubject: subject,
	}
}

func TestCreateAndLookup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.CreateIdentity(ctx, localIdentity("a@x.com", "alice"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, ea.ProviderLocal, created.Provider)
	assert.Empty(t, created.ProviderSubject)

	byID, err := store.GetIdentityByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", byID.Email)

	byEmail, err := store.GetIdentityByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byName, err := store.GetIdentityByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)
	assert.True(t, byName.IsLocal())

	_, err = store.GetIdentityByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ea.ErrIdentityNotFound)
	_, err = store.GetIdentityByID(ctx, created.ID+100)
	assert.ErrorIs(t, err, ea.ErrIdentityNotFound)
}

func TestProviderSubjectLookup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.CreateIdentity(ctx, googleIdentity("g@x.com", "gina", "sub-1"))
	require.NoError(t, err)
	assert.Empty(t, created.PasswordHash)

	found, err := store.GetIdentityByProviderSubject(ctx, ea.ProviderGoogle, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.False(t, found.IsLocal())

	_, err = store.GetIdentityByProviderSubject(ctx, ea.ProviderLocal, "sub-1")
	assert.ErrorIs(t, err, ea.ErrIdentityNotFound)
	_, err = store.GetIdentityByProviderSubject(ctx, ea.ProviderGoogle, "")
	assert.ErrorIs(t, err, ea.ErrIdentityNotFound)
}

func TestUniqueness(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.CreateIdentity(ctx, localIdentity("a@x.com", "alice"))
	require.NoError(t, err)
	_, err = store.CreateIdentity(ctx, googleIdentity("g@x.com", "gina", "sub-1"))
	require.NoError(t, err)

	_, err = store.CreateIdentity(ctx, localIdentity("b@x.com", "alice"))
	assert.ErrorIs(t, err, ea.ErrIdentityExists, "duplicate username")

	_, err = store.CreateIdentity(ctx, googleIdentity("a@x.com", "other", "sub-2"))
	assert.ErrorIs(t, err, ea.ErrIdentityExists, "duplicate email across providers")

	_, err = store.CreateIdentity(ctx, googleIdentity("h@x.com", "henry", "sub-1"))
	assert.ErrorIs(t, err, ea.ErrIdentityExists, "duplicate provider subject")

	// local rows all have a NULL subject and must not collide on it
	_, err = store.CreateIdentity(ctx, localIdentity("c@x.com", "carol"))
	assert.NoError(t, err)
}

func TestCreateRejectsMixedIdentity(t *testing.T) {
	store := setupStore(t)
	params := localIdentity("a@x.com", "alice")
	params.ProviderSubject = "sub-1"
	_, err := store.CreateIdentity(context.Background(), params)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ea.ErrIdentityExists)
}

func TestRefreshTokenSetAndClear(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.CreateIdentity(ctx, localIdentity("a@x.com", "alice"))
	require.NoError(t, err)
	assert.Empty(t, created.RefreshToken)

	require.NoError(t, store.SetRefreshToken(ctx, created.ID, "token-1"))
	found, err := store.GetIdentityByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-1", found.RefreshToken)

	// setting the same value again still finds the row
	require.NoError(t, store.SetRefreshToken(ctx, created.ID, "token-1"))

	require.NoError(t, store.SetRefreshToken(ctx, created.ID, ""))
	found, err = store.GetIdentityByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, found.RefreshToken)

	assert.ErrorIs(t, store.SetRefreshToken(ctx, 9999, "token"), ea.ErrIdentityNotFound)
}

func TestSetPasswordHash(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.CreateIdentity(ctx, localIdentity("a@x.com", "alice"))
	require.NoError(t, err)

	require.NoError(t, store.SetPasswordHash(ctx, created.ID, "$argon2id$new"))
	found, err := store.GetIdentityByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$new", found.PasswordHash)

	assert.Error(t, store.SetPasswordHash(ctx, created.ID, ""))
	assert.ErrorIs(t, store.SetPasswordHash(ctx, 9999, "x"), ea.ErrIdentityNotFound)
}

func TestIsUsernameFree(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	free, err := store.IsUsernameFree(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, free)

	_, err = store.CreateIdentity(ctx, localIdentity("a@x.com", "alice"))
	require.NoError(t, err)

	free, err = store.IsUsernameFree(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, free)
}
