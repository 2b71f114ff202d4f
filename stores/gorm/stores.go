//go:build !wasm
// +build !wasm

// Package gorm backs the confide stores with a relational database through
// GORM. Uniqueness of the email and of every (provider, subject) pair is
// enforced by the schema itself, so the create-with-uniqueness-check is
// atomic at the database, not just in process.
//
// Detecting a duplicate depends on gorm translating the driver's
// unique-violation error into gorm.ErrDuplicatedKey; the constructors turn
// that translation on, so callers need not pass TranslateError themselves.
package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/confide-dev/confide"
)

// AutoMigrate runs database migrations for all confide tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&IdentityModel{},
		&FederatedLinkModel{},
		&SessionModel{},
	)
}

// IdentityStore implements confide.IdentityStore using GORM
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	// Create relies on gorm.ErrDuplicatedKey; without translation a unique
	// violation surfaces as a raw driver error.
	db.Config.TranslateError = true
	return &IdentityStore{db: db}
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*confide.Identity, error) {
	var model IdentityModel
	err := s.db.WithContext(ctx).First(&model, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.withLinks(ctx, &model)
}

func (s *IdentityStore) FindByFederated(ctx context.Context, provider, subject string) (*confide.Identity, error) {
	var link FederatedLinkModel
	err := s.db.WithContext(ctx).First(&link, "provider = ? AND subject = ?", provider, subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, link.IdentityID)
}

func (s *IdentityStore) FindByID(ctx context.Context, id string) (*confide.Identity, error) {
	var model IdentityModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.withLinks(ctx, &model)
}

func (s *IdentityStore) withLinks(ctx context.Context, model *IdentityModel) (*confide.Identity, error) {
	var links []FederatedLinkModel
	if err := s.db.WithContext(ctx).Find(&links, "identity_id = ?", model.ID).Error; err != nil {
		return nil, err
	}
	return model.toIdentity(links), nil
}

func (s *IdentityStore) Create(ctx context.Context, identity *confide.Identity) error {
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	identity.Version = 1

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(identityToModel(identity)).Error; err != nil {
			return err
		}
		for provider, subject := range identity.Federated {
			link := &FederatedLinkModel{
				Provider:   provider,
				Subject:    subject,
				IdentityID: identity.ID,
			}
			if err := tx.Create(link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return confide.ErrDuplicateIdentifier
	}
	return err
}

func (s *IdentityStore) Save(ctx context.Context, identity *confide.Identity) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := identityToModel(identity)
		result := tx.Model(&IdentityModel{}).
			Where("id = ? AND version = ?", identity.ID, identity.Version).
			Updates(map[string]any{
				"email":        model.Email,
				"credential":   model.Credential,
				"display_name": model.DisplayName,
				"secrets":      model.Secrets,
				"version":      identity.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&IdentityModel{}).Where("id = ?", identity.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return confide.ErrIdentityNotFound
			}
			return confide.ErrConcurrentModification
		}

		// Reserve any new federated links; a pair held by another identity
		// trips the composite primary key.
		var links []FederatedLinkModel
		if err := tx.Find(&links, "identity_id = ?", identity.ID).Error; err != nil {
			return err
		}
		existing := make(map[string]string, len(links))
		for _, link := range links {
			existing[link.Provider] = link.Subject
		}
		for provider, subject := range identity.Federated {
			if existing[provider] == subject {
				continue
			}
			link := &FederatedLinkModel{
				Provider:   provider,
				Subject:    subject,
				IdentityID: identity.ID,
			}
			if err := tx.Create(link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return confide.ErrDuplicateIdentifier
	}
	if err == nil {
		identity.Version++
		identity.UpdatedAt = time.Now()
	}
	return err
}

// AllSecrets implements confide.SecretLister.
func (s *IdentityStore) AllSecrets(ctx context.Context) ([]string, error) {
	var models []IdentityModel
	if err := s.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	var all []string
	for _, m := range models {
		all = append(all, []string(m.Secrets)...)
	}
	return all, nil
}

// SessionStore implements confide.SessionStore using GORM
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	db.Config.TranslateError = true
	return &SessionStore{db: db}
}

func (s *SessionStore) Issue(ctx context.Context, identityID string, ttl time.Duration) (string, error) {
	token, err := confide.NewSessionToken()
	if err != nil {
		return "", err
	}
	model := &SessionModel{
		Token:      token,
		IdentityID: identityID,
		ExpiresAt:  time.Now().Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", err
	}
	return token, nil
}

func (s *SessionStore) Resolve(ctx context.Context, token string) (string, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).First(&model, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if model.Revoked || time.Now().After(model.ExpiresAt) {
		return "", nil
	}
	return model.IdentityID, nil
}

func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Model(&SessionModel{}).
		Where("token = ?", token).
		Update("revoked", true).Error
}

// CleanupExpiredSessions removes expired and revoked sessions (for
// maintenance).
func (s *SessionStore) CleanupExpiredSessions(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Delete(&SessionModel{}, "expires_at < ? OR revoked = ?", time.Now(), true).Error
}
