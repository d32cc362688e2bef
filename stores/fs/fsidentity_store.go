package fs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ea "github.com/panyam/eventauth"
)

// FSIdentityStore implements ea.IdentityStore with JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── next_id                 # last assigned identity id
//	├── identities/
//	│   └── 42.json             # the identity record
//	├── emails/
//	│   └── <hex(email)>        # "42"
//	├── usernames/
//	│   └── <hex(username)>     # "42"
//	└── subjects/
//	    └── GOOGLE-<hex(sub)>   # "42"
//
// Index files are written before the record and removed again if the create
// fails part way, so a uniqueness check is a single file existence test.
//
// # Concurrency Model
//
// All operations take a single mutex, so one store instance is safe for
// concurrent use. Two processes sharing a directory are not.
type FSIdentityStore struct {
	StoragePath string
	mu          sync.Mutex
}

// NewFSIdentityStore creates a new filesystem-backed IdentityStore
func NewFSIdentityStore(storagePath string) *FSIdentityStore {
	return &FSIdentityStore{StoragePath: storagePath}
}

func (s *FSIdentityStore) identityPath(id int64) string {
	return filepath.Join(s.StoragePath, "identities", strconv.FormatInt(id, 10)+".json")
}

// indexPath hex encodes the key so any email or subject is a safe filename
func (s *FSIdentityStore) indexPath(index, key string) string {
	return filepath.Join(s.StoragePath, index, hex.EncodeToString([]byte(key)))
}

func (s *FSIdentityStore) subjectPath(provider ea.Provider, subject string) string {
	return filepath.Join(s.StoragePath, "subjects", string(provider)+"-"+hex.EncodeToString([]byte(subject)))
}

func (s *FSIdentityStore) CreateIdentity(ctx context.Context, params ea.NewIdentity) (*ea.Identity, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	indexes := []string{
		s.indexPath("emails", params.Email),
		s.indexPath("usernames", params.Username),
	}
	if params.ProviderSubject != "" {
		indexes = append(indexes, s.subjectPath(params.Provider, params.ProviderSubject))
	}
	for _, path := range indexes {
		if _, err := os.Stat(path); err == nil {
			return nil, ea.ErrIdentityExists
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	id, err := s.nextID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	identity := &ea.Identity{
		ID:              id,
		Email:           params.Email,
		Username:        params.Username,
		PasswordHash:    params.PasswordHash,
		Provider:        params.Provider,
		ProviderSubject: params.ProviderSubject,
		DateOfBirth:     params.DateOfBirth,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var written []string
	for _, path := range indexes {
		if err := writeFile(path, []byte(strconv.FormatInt(id, 10))); err != nil {
			removeAll(written)
			return nil, err
		}
		written = append(written, path)
	}
	if err := s.saveIdentity(identity); err != nil {
		removeAll(written)
		return nil, err
	}
	return identity, nil
}

func (s *FSIdentityStore) GetIdentityByID(ctx context.Context, id int64) (*ea.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIdentity(id)
}

func (s *FSIdentityStore) GetIdentityByEmail(ctx context.Context, email string) (*ea.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndexed(s.indexPath("emails", email))
}

func (s *FSIdentityStore) GetIdentityByUsername(ctx context.Context, username string) (*ea.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndexed(s.indexPath("usernames", username))
}

func (s *FSIdentityStore) GetIdentityByProviderSubject(ctx context.Context, provider ea.Provider, subject string) (*ea.Identity, error) {
	if subject == "" {
		return nil, ea.ErrIdentityNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndexed(s.subjectPath(provider, subject))
}

func (s *FSIdentityStore) SetRefreshToken(ctx context.Context, id int64, token string) error {
	return s.update(id, func(identity *ea.Identity) error {
		identity.RefreshToken = token
		return nil
	})
}

func (s *FSIdentityStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.update(id, func(identity *ea.Identity) error {
		if hash == "" {
			return errors.New("password hash cannot be empty")
		}
		identity.PasswordHash = hash
		return nil
	})
}

func (s *FSIdentityStore) IsUsernameFree(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.indexPath("usernames", username))
	if os.IsNotExist(err) {
		return true, nil
	}
	return false, err
}

func (s *FSIdentityStore) update(id int64, mutate func(*ea.Identity) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.readIdentity(id)
	if err != nil {
		return err
	}
	if err := mutate(identity); err != nil {
		return err
	}
	identity.UpdatedAt = time.Now().UTC()
	return s.saveIdentity(identity)
}

func (s *FSIdentityStore) readIndexed(path string) (*ea.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ea.ErrIdentityNotFound
		}
		return nil, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt index %s: %w", path, err)
	}
	return s.readIdentity(id)
}

func (s *FSIdentityStore) readIdentity(id int64) (*ea.Identity, error) {
	data, err := os.ReadFile(s.identityPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ea.ErrIdentityNotFound
		}
		return nil, err
	}

	var identity ea.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (s *FSIdentityStore) saveIdentity(identity *ea.Identity) error {
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(s.identityPath(identity.ID), data)
}

// nextID bumps and returns the id counter. Callers hold mu.
func (s *FSIdentityStore) nextID() (int64, error) {
	path := filepath.Join(s.StoragePath, "next_id")
	var last int64
	data, err := os.ReadFile(path)
	if err == nil {
		last, err = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt id counter: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	next := last + 1
	if err := writeFile(path, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func removeAll(paths []string) {
	for _, path := range paths {
		os.Remove(path)
	}
}
