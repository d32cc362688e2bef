//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of eventauth.IdentityStore.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and is suitable for production deployments requiring relational storage.
//
// # Database Schema
//
// The package auto-migrates a single table:
//   - identities: one row per identity, with unique indexes on email,
//     username and (provider, provider_subject)
//
// Password hash, provider subject and refresh token are nullable columns, so
// the unique index on provider subject only applies to federated rows.
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("eventauth.db"), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	store := gormstore.NewIdentityStore(db)
package gorm
