package eventauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IdentityResolver looks identities up by the keys the auth flows use.
// A missing identity is (nil, nil); only store failures are errors.
type IdentityResolver struct {
	Store IdentityStore
}

func NewIdentityResolver(store IdentityStore) *IdentityResolver {
	return &IdentityResolver{Store: store}
}

func (r *IdentityResolver) FindByID(ctx context.Context, id int64) (*Identity, error) {
	return found(r.Store.GetIdentityByID(ctx, id))
}

func (r *IdentityResolver) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return found(r.Store.GetIdentityByEmail(ctx, NormalizeEmail(email)))
}

func (r *IdentityResolver) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	return found(r.Store.GetIdentityByUsername(ctx, strings.TrimSpace(username)))
}

func (r *IdentityResolver) FindByProviderSubject(ctx context.Context, provider Provider, subject string) (*Identity, error) {
	return found(r.Store.GetIdentityByProviderSubject(ctx, provider, subject))
}

// FindByLogin resolves a login identifier: email syntax is looked up by
// email, anything else by username
func (r *IdentityResolver) FindByLogin(ctx context.Context, identifier string) (*Identity, error) {
	if DetectIdentifierType(identifier) == "email" {
		return r.FindByEmail(ctx, identifier)
	}
	return r.FindByUsername(ctx, identifier)
}

func (r *IdentityResolver) IsUsernameFree(ctx context.Context, username string) (bool, error) {
	return r.Store.IsUsernameFree(ctx, strings.TrimSpace(username))
}

// Create persists exactly one new identity. It never updates an existing one.
func (r *IdentityResolver) Create(ctx context.Context, params NewIdentity) (*Identity, error) {
	params.Email = NormalizeEmail(params.Email)
	params.Username = strings.TrimSpace(params.Username)
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	return r.Store.CreateIdentity(ctx, params)
}

func found(identity *Identity, err error) (*Identity, error) {
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}
