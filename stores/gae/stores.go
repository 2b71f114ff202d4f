//go:build !wasm
// +build !wasm

// Package gae backs the confide identity store with Google Cloud Datastore.
// Uniqueness is enforced with index entities (email and federated pair each
// own a keyed entity) created inside a transaction, so create-with-
// uniqueness-check is atomic.
package gae

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/confide-dev/confide"
)

// Kind constants for Datastore entities
const (
	KindIdentity      = "Identity"
	KindEmailIndex    = "EmailIndex"
	KindFederatedLink = "FederatedLink"
)

// IdentityEntity is the Datastore representation of an identity. The
// federated map is serialized to JSON since Datastore has no map type.
type IdentityEntity struct {
	Key         *datastore.Key `datastore:"__key__"`
	Email       string         `datastore:"email"`
	Credential  string         `datastore:"credential,noindex"`
	DisplayName string         `datastore:"display_name,noindex"`
	Federated   []byte         `datastore:"federated,noindex"`
	Secrets     []string       `datastore:"secrets,noindex"`
	CreatedAt   time.Time      `datastore:"created_at"`
	UpdatedAt   time.Time      `datastore:"updated_at"`
	Version     int            `datastore:"version,noindex"`
}

// indexEntity points an index key (email or provider:subject) at an
// identity id.
type indexEntity struct {
	IdentityID string `datastore:"identity_id"`
}

// IdentityStore implements confide.IdentityStore using Google Cloud Datastore
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

func federatedIndexName(provider, subject string) string {
	return provider + ":" + subject
}

func (s *IdentityStore) entityToIdentity(entity *IdentityEntity) *confide.Identity {
	identity := &confide.Identity{
		ID:          entity.Key.Name,
		Email:       entity.Email,
		Credential:  entity.Credential,
		DisplayName: entity.DisplayName,
		Secrets:     entity.Secrets,
		CreatedAt:   entity.CreatedAt,
		UpdatedAt:   entity.UpdatedAt,
		Version:     entity.Version,
	}
	if entity.Federated != nil {
		json.Unmarshal(entity.Federated, &identity.Federated)
	}
	return identity
}

func (s *IdentityStore) identityToEntity(identity *confide.Identity) *IdentityEntity {
	var federated []byte
	if identity.Federated != nil {
		federated, _ = json.Marshal(identity.Federated)
	}
	return &IdentityEntity{
		Key:         s.namespacedKey(KindIdentity, identity.ID),
		Email:       identity.Email,
		Credential:  identity.Credential,
		DisplayName: identity.DisplayName,
		Federated:   federated,
		Secrets:     identity.Secrets,
		CreatedAt:   identity.CreatedAt,
		UpdatedAt:   identity.UpdatedAt,
		Version:     identity.Version,
	}
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*confide.Identity, error) {
	return s.findViaIndex(ctx, s.namespacedKey(KindEmailIndex, email))
}

func (s *IdentityStore) FindByFederated(ctx context.Context, provider, subject string) (*confide.Identity, error) {
	return s.findViaIndex(ctx, s.namespacedKey(KindFederatedLink, federatedIndexName(provider, subject)))
}

func (s *IdentityStore) findViaIndex(ctx context.Context, indexKey *datastore.Key) (*confide.Identity, error) {
	var index indexEntity
	if err := s.client.Get(ctx, indexKey, &index); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, nil
		}
		return nil, err
	}
	return s.FindByID(ctx, index.IdentityID)
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*confide.Identity, error) {
	key := s.namespacedKey(KindIdentity, id)
	var entity IdentityEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, nil
		}
		return nil, err
	}
	entity.Key = key
	return s.entityToIdentity(&entity), nil
}

func (s *IdentityStore) Create(ctx context.Context, identity *confide.Identity) error {
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	identity.Version = 1

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		indexKeys := s.indexKeysFor(identity)
		for _, indexKey := range indexKeys {
			var existing indexEntity
			err := tx.Get(indexKey, &existing)
			if err == nil {
				return confide.ErrDuplicateIdentifier
			}
			if err != datastore.ErrNoSuchEntity {
				return err
			}
		}
		for _, indexKey := range indexKeys {
			if _, err := tx.Put(indexKey, &indexEntity{IdentityID: identity.ID}); err != nil {
				return err
			}
		}
		entity := s.identityToEntity(identity)
		_, err := tx.Put(entity.Key, entity)
		return err
	})
	return err
}

func (s *IdentityStore) Save(ctx context.Context, identity *confide.Identity) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		key := s.namespacedKey(KindIdentity, identity.ID)
		var current IdentityEntity
		if err := tx.Get(key, &current); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return confide.ErrIdentityNotFound
			}
			return err
		}
		if current.Version != identity.Version {
			return confide.ErrConcurrentModification
		}

		// Reserve index entities for any newly added federated links.
		var currentFederated map[string]string
		if current.Federated != nil {
			json.Unmarshal(current.Federated, &currentFederated)
		}
		for provider, subject := range identity.Federated {
			if currentFederated[provider] == subject {
				continue
			}
			indexKey := s.namespacedKey(KindFederatedLink, federatedIndexName(provider, subject))
			var existing indexEntity
			err := tx.Get(indexKey, &existing)
			if err == nil {
				if existing.IdentityID != identity.ID {
					return confide.ErrDuplicateIdentifier
				}
				continue
			}
			if err != datastore.ErrNoSuchEntity {
				return err
			}
			if _, err := tx.Put(indexKey, &indexEntity{IdentityID: identity.ID}); err != nil {
				return err
			}
		}

		// The transaction body may be retried, so the caller's record is
		// only bumped after the commit below succeeds.
		entity := s.identityToEntity(identity)
		entity.Version = identity.Version + 1
		entity.CreatedAt = current.CreatedAt
		entity.UpdatedAt = time.Now()
		_, err := tx.Put(key, entity)
		return err
	})
	if err == nil {
		identity.Version++
		identity.UpdatedAt = time.Now()
	}
	return err
}

func (s *IdentityStore) indexKeysFor(identity *confide.Identity) []*datastore.Key {
	var keys []*datastore.Key
	if identity.Email != "" {
		keys = append(keys, s.namespacedKey(KindEmailIndex, identity.Email))
	}
	for provider, subject := range identity.Federated {
		keys = append(keys, s.namespacedKey(KindFederatedLink, federatedIndexName(provider, subject)))
	}
	return keys
}

// AllSecrets implements confide.SecretLister.
func (s *IdentityStore) AllSecrets(ctx context.Context) ([]string, error) {
	query := datastore.NewQuery(KindIdentity).Namespace(s.namespace).Order("created_at")
	it := s.client.Run(ctx, query)

	var all []string
	for {
		var entity IdentityEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		all = append(all, entity.Secrets...)
	}
	return all, nil
}
