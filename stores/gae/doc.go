//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// eventauth.IdentityStore. It supports multi-tenancy through Datastore
// namespaces.
//
// # Datastore Kinds
//
//   - Identity: the identity record, keyed by a numeric allocated id
//   - IdentityEmail: uniqueness marker keyed by email
//   - IdentityUsername: uniqueness marker keyed by username
//   - IdentitySubject: uniqueness marker keyed by "PROVIDER:subject"
//
// Markers hold the identity id, so every lookup is a pair of keyed gets and
// no query or index is needed. Creates check and write the markers and the
// record in one transaction.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewIdentityStore(client, "")  // default namespace
package gae
