package confide

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Identity is the durable user record. An identity is created either through
// local registration (email + encoded credential) or through federated
// linking (provider + subject, no credential). Both kinds can accumulate
// secrets once authenticated.
type Identity struct {
	// ID is assigned once at creation and never reused.
	ID string `json:"id"`

	// Email is the primary identifier for local login. Empty for identities
	// created purely through federation without an email scope.
	Email string `json:"email,omitempty"`

	// Credential is the encoded-at-rest secret. Always the output of an
	// Encoder's Encode, never plaintext. Empty for federated-only identities.
	Credential string `json:"credential,omitempty"`

	// DisplayName comes from the federated provider's profile, if any.
	DisplayName string `json:"display_name,omitempty"`

	// Federated maps provider name -> provider-issued subject id.
	// At most one identity exists per (provider, subject) pair.
	Federated map[string]string `json:"federated,omitempty"`

	// Secrets is the append-only list of free-text secrets this identity
	// has submitted.
	Secrets []string `json:"secrets,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"` // optimistic locking version
}

// HasCredential reports whether the identity can be authenticated locally.
func (id *Identity) HasCredential() bool {
	return id.Credential != ""
}

// FederatedSubject returns the subject id linked for a provider, if any.
func (id *Identity) FederatedSubject(provider string) (string, bool) {
	if id.Federated == nil {
		return "", false
	}
	subject, ok := id.Federated[provider]
	return subject, ok
}

// Errors surfaced by stores and the auth flows. Expected user-facing outcomes
// (duplicate, no-such-user, bad-credential) are sentinels so callers can
// branch with errors.Is; everything else wraps the underlying cause.
var (
	// ErrDuplicateIdentifier is returned by Create when the email or any
	// (provider, subject) pair is already taken by another identity.
	ErrDuplicateIdentifier = errors.New("identifier already registered")

	// ErrIdentityNotFound is returned by Save when the record no longer
	// exists. Lookups do NOT return this; they return (nil, nil).
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrConcurrentModification is returned by Save when the stored version
	// no longer matches the version being saved.
	ErrConcurrentModification = errors.New("identity was modified concurrently")

	// ErrStoreUnavailable wraps persistence failures that should surface as
	// a transient 503, never a crash.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// IdentityStore owns the durable identity records. It is the exclusive
// authority over create/read/update and enforces uniqueness of the primary
// identifier and of every (provider, subject) pair.
//
// Lookups return (nil, nil) when nothing matches: absence is an answer, not
// an error. Create must perform its uniqueness check and the insert
// atomically - two concurrent registrations with the same email must not
// both succeed.
type IdentityStore interface {
	// FindByEmail looks up an identity by its primary identifier.
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// FindByFederated looks up the identity linked to (provider, subject).
	FindByFederated(ctx context.Context, provider, subject string) (*Identity, error)

	// FindByID looks up an identity by its opaque id.
	FindByID(ctx context.Context, id string) (*Identity, error)

	// Create inserts a new identity, assigning CreatedAt/UpdatedAt/Version.
	// Returns ErrDuplicateIdentifier if the email or any federated pair is
	// already taken.
	Create(ctx context.Context, identity *Identity) error

	// Save persists changes to an existing identity. Returns
	// ErrConcurrentModification on a version conflict and
	// ErrIdentityNotFound if the record is gone.
	Save(ctx context.Context, identity *Identity) error
}

// NewIdentityID generates an opaque, cryptographically random identity id.
func NewIdentityID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
