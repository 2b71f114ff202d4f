//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/confide-dev/confide"
)

// StringSlice stores a string slice as JSON in GORM
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// IdentityModel is the GORM model for identity records
type IdentityModel struct {
	ID          string      `gorm:"primaryKey;size:64"`
	Email       *string     `gorm:"size:255;uniqueIndex"`
	Credential  string      `gorm:"size:512"`
	DisplayName string      `gorm:"size:255"`
	Secrets     StringSlice `gorm:"type:jsonb"`
	CreatedAt   time.Time   `gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime"`
	Version     int         `gorm:"default:1"`
}

func (IdentityModel) TableName() string {
	return "identities"
}

// FederatedLinkModel maps a (provider, subject) pair to an identity. The
// composite primary key is the uniqueness guarantee for federated lookups.
type FederatedLinkModel struct {
	Provider   string    `gorm:"primaryKey;size:32"`
	Subject    string    `gorm:"primaryKey;size:255"`
	IdentityID string    `gorm:"size:64;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (FederatedLinkModel) TableName() string {
	return "federated_links"
}

// SessionModel is the GORM model for sessions
type SessionModel struct {
	Token      string    `gorm:"primaryKey;size:64"`
	IdentityID string    `gorm:"size:64;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ExpiresAt  time.Time `gorm:"index"`
	Revoked    bool      `gorm:"default:false"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func identityToModel(i *confide.Identity) *IdentityModel {
	model := &IdentityModel{
		ID:          i.ID,
		Credential:  i.Credential,
		DisplayName: i.DisplayName,
		Secrets:     StringSlice(i.Secrets),
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
		Version:     i.Version,
	}
	if i.Email != "" {
		email := i.Email
		model.Email = &email
	}
	return model
}

func (m *IdentityModel) toIdentity(links []FederatedLinkModel) *confide.Identity {
	identity := &confide.Identity{
		ID:          m.ID,
		Credential:  m.Credential,
		DisplayName: m.DisplayName,
		Secrets:     []string(m.Secrets),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Version:     m.Version,
	}
	if m.Email != nil {
		identity.Email = *m.Email
	}
	if len(links) > 0 {
		identity.Federated = make(map[string]string, len(links))
		for _, link := range links {
			identity.Federated[link.Provider] = link.Subject
		}
	}
	return identity
}
