package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/confide-dev/confide"
)

// FSIdentityStore stores identities as JSON files, one per record, with
// index files enforcing uniqueness of the email and of every
// (provider, subject) pair. Index reservation uses O_EXCL creates, so the
// uniqueness check and the insert are a single step even across processes
// sharing the directory. Suitable for development and tests.
type FSIdentityStore struct {
	StoragePath string

	mu sync.Mutex // serializes save/version checks within this process
}

func NewFSIdentityStore(storagePath string) *FSIdentityStore {
	return &FSIdentityStore{StoragePath: storagePath}
}

func (s *FSIdentityStore) identityPath(id string) string {
	return filepath.Join(s.StoragePath, "identities", id+".json")
}

func (s *FSIdentityStore) emailIndexPath(email string) string {
	return filepath.Join(s.StoragePath, "index", "email", indexName(email))
}

func (s *FSIdentityStore) federatedIndexPath(provider, subject string) string {
	return filepath.Join(s.StoragePath, "index", "federated", indexName(provider+":"+subject))
}

func (s *FSIdentityStore) FindByEmail(ctx context.Context, email string) (*confide.Identity, error) {
	return s.findViaIndex(s.emailIndexPath(email))
}

func (s *FSIdentityStore) FindByFederated(ctx context.Context, provider, subject string) (*confide.Identity, error) {
	return s.findViaIndex(s.federatedIndexPath(provider, subject))
}

func (s *FSIdentityStore) FindByID(ctx context.Context, id string) (*confide.Identity, error) {
	return s.readIdentity(s.identityPath(id))
}

func (s *FSIdentityStore) findViaIndex(indexPath string) (*confide.Identity, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return s.readIdentity(s.identityPath(id))
}

func (s *FSIdentityStore) readIdentity(path string) (*confide.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var identity confide.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (s *FSIdentityStore) Create(ctx context.Context, identity *confide.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reserved []string
	rollback := func() {
		for _, path := range reserved {
			os.Remove(path)
		}
	}

	if identity.Email != "" {
		path := s.emailIndexPath(identity.Email)
		if err := s.reserveIndex(path, identity.ID); err != nil {
			rollback()
			return err
		}
		reserved = append(reserved, path)
	}
	for provider, subject := range identity.Federated {
		path := s.federatedIndexPath(provider, subject)
		if err := s.reserveIndex(path, identity.ID); err != nil {
			rollback()
			return err
		}
		reserved = append(reserved, path)
	}

	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	identity.Version = 1
	if err := s.writeIdentity(identity); err != nil {
		rollback()
		return err
	}
	return nil
}

// reserveIndex claims an index key for an identity id. The O_EXCL create is
// the uniqueness check.
func (s *FSIdentityStore) reserveIndex(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return confide.ErrDuplicateIdentifier
		}
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(id)
}

func (s *FSIdentityStore) Save(ctx context.Context, identity *confide.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readIdentity(s.identityPath(identity.ID))
	if err != nil {
		return err
	}
	if current == nil {
		return confide.ErrIdentityNotFound
	}
	if current.Version != identity.Version {
		return confide.ErrConcurrentModification
	}

	// New federated links need their index reserved before the record is
	// rewritten; a key held by another identity is a duplicate. A failure
	// past the first reservation releases everything reserved so far, same
	// as Create.
	var reserved []string
	rollback := func() {
		for _, path := range reserved {
			os.Remove(path)
		}
	}
	for provider, subject := range identity.Federated {
		if existing, ok := current.Federated[provider]; ok && existing == subject {
			continue
		}
		path := s.federatedIndexPath(provider, subject)
		if err := s.reserveIndex(path, identity.ID); err != nil {
			rollback()
			return err
		}
		reserved = append(reserved, path)
	}

	identity.Version++
	identity.UpdatedAt = time.Now()
	if err := s.writeIdentity(identity); err != nil {
		rollback()
		return err
	}
	return nil
}

func (s *FSIdentityStore) writeIdentity(identity *confide.Identity) error {
	path := s.identityPath(identity.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

// AllSecrets implements confide.SecretLister by walking every identity
// record.
func (s *FSIdentityStore) AllSecrets(ctx context.Context) ([]string, error) {
	dir := filepath.Join(s.StoragePath, "identities")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var all []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		identity, err := s.readIdentity(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		if identity != nil {
			all = append(all, identity.Secrets...)
		}
	}
	return all, nil
}
