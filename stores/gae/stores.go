//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"

	ea "github.com/panyam/eventauth"
)

// Kind constants for Datastore entities
const (
	KindIdentity         = "Identity"
	KindIdentityEmail    = "IdentityEmail"
	KindIdentityUsername = "IdentityUsername"
	KindIdentitySubject  = "IdentitySubject"
)

// IdentityStore implements ea.IdentityStore using Google Cloud Datastore
type IdentityStore struct {
	client    *datastore.Client
	namespace string
}

// NewIdentityStore creates a new Datastore-backed IdentityStore
func NewIdentityStore(client *datastore.Client, namespace string) *IdentityStore {
	return &IdentityStore{client: client, namespace: namespace}
}

func (s *IdentityStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *IdentityStore) identityKey(id int64) *datastore.Key {
	key := datastore.IDKey(KindIdentity, id, nil)
	key.Namespace = s.namespace
	return key
}

func (s *IdentityStore) subjectKey(provider ea.Provider, subject string) *datastore.Key {
	return s.namespacedKey(KindIdentitySubject, string(provider)+":"+subject)
}

func (s *IdentityStore) CreateIdentity(ctx context.Context, params ea.NewIdentity) (*ea.Identity, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	incomplete := datastore.IncompleteKey(KindIdentity, nil)
	incomplete.Namespace = s.namespace
	keys, err := s.client.AllocateIDs(ctx, []*datastore.Key{incomplete})
	if err != nil {
		return nil, fmt.Errorf("allocate identity id: %w", err)
	}
	key := keys[0]

	markers := []*datastore.Key{
		s.namespacedKey(KindIdentityEmail, params.Email),
		s.namespacedKey(KindIdentityUsername, params.Username),
	}
	if params.ProviderSubject != "" {
		markers = append(markers, s.subjectKey(params.Provider, params.ProviderSubject))
	}

	now := time.Now().UTC()
	entity := NewIdentityToEntity(params, key, now)

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		for _, markerKey := range markers {
			var existing MarkerEntity
			err := tx.Get(markerKey, &existing)
			if err == nil {
				return ea.ErrIdentityExists
			}
			if !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}

		marker := &MarkerEntity{IdentityID: key.ID, CreatedAt: now}
		for _, markerKey := range markers {
			if _, err := tx.Put(markerKey, marker); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		if errors.Is(err, ea.ErrIdentityExists) {
			return nil, ea.ErrIdentityExists
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return entity.ToIdentity(), nil
}

func (s *IdentityStore) GetIdentityByID(ctx context.Context, id int64) (*ea.Identity, error) {
	var entity IdentityEntity
	if err := s.client.Get(ctx, s.identityKey(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ea.ErrIdentityNotFound
		}
		return nil, err
	}
	return entity.ToIdentity(), nil
}

func (s *IdentityStore) GetIdentityByEmail(ctx context.Context, email string) (*ea.Identity, error) {
	return s.getByMarker(ctx, s.namespacedKey(KindIdentityEmail, email))
}

func (s *IdentityStore) GetIdentityByUsername(ctx context.Context, username string) (*ea.Identity, error) {
	return s.getByMarker(ctx, s.namespacedKey(KindIdentityUsername, username))
}

func (s *IdentityStore) GetIdentityByProviderSubject(ctx context.Context, provider ea.Provider, subject string) (*ea.Identity, error) {
	if subject == "" {
		return nil, ea.ErrIdentityNotFound
	}
	return s.getByMarker(ctx, s.subjectKey(provider, subject))
}

func (s *IdentityStore) SetRefreshToken(ctx context.Context, id int64, token string) error {
	return s.update(ctx, id, func(entity *IdentityEntity) error {
		entity.RefreshToken = token
		return nil
	})
}

func (s *IdentityStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.update(ctx, id, func(entity *IdentityEntity) error {
		if hash == "" {
			return errors.New("password hash cannot be empty")
		}
		entity.PasswordHash = hash
		return nil
	})
}

func (s *IdentityStore) IsUsernameFree(ctx context.Context, username string) (bool, error) {
	var marker MarkerEntity
	err := s.client.Get(ctx, s.namespacedKey(KindIdentityUsername, username), &marker)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *IdentityStore) getByMarker(ctx context.Context, markerKey *datastore.Key) (*ea.Identity, error) {
	var marker MarkerEntity
	if err := s.client.Get(ctx, markerKey, &marker); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ea.ErrIdentityNotFound
		}
		return nil, err
	}
	return s.GetIdentityByID(ctx, marker.IdentityID)
}

func (s *IdentityStore) update(ctx context.Context, id int64, mutate func(*IdentityEntity) error) error {
	key := s.identityKey(id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity IdentityEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ea.ErrIdentityNotFound
			}
			return err
		}
		if err := mutate(&entity); err != nil {
			return err
		}
		entity.UpdatedAt = time.Now().UTC()
		entity.Version++
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}
