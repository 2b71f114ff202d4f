package confide

import (
	"context"
	"errors"
	"time"
)

// ErrProviderAssertionInvalid is returned when an external identity
// assertion is malformed or unverifiable. The federated flow aborts; no
// identity is ever created from an unverified assertion.
var ErrProviderAssertionInvalid = errors.New("invalid provider assertion")

// Assertion is the output of a completed external-provider handshake. The
// OAuth2 dance itself happens in the oauth2 subpackage (or any other
// provider integration); by the time an Assertion reaches the Linker it is
// trusted.
type Assertion struct {
	// Provider is the provider name, e.g. "google" or "facebook".
	Provider string

	// Subject is the provider-issued stable subject id.
	Subject string

	// DisplayName is profile decoration only. It never participates in
	// identity lookup: display names change, subjects do not.
	DisplayName string

	// Email, when the provider granted an email scope. Informational only;
	// the linker never merges accounts by email (a spoofed-email provider
	// must not be able to take over a local account).
	Email string
}

// Validate checks the assertion carries the fields lookup depends on.
func (a *Assertion) Validate() error {
	if a == nil || a.Provider == "" || a.Subject == "" {
		return ErrProviderAssertionInvalid
	}
	return nil
}

// Linker reconciles external-provider assertions with local identity
// records. This path never touches the credential encoder.
type Linker struct {
	Store    IdentityStore
	Sessions SessionStore

	// SessionTTL defaults to DefaultSessionTTL.
	SessionTTL time.Duration
}

// LinkOrCreate finds the identity linked to (provider, subject), creating
// one if none exists, and authenticates it. Lookup keys strictly on the
// (provider, subject) pair - two identities with the same email but
// different provider links stay distinct records.
func (l *Linker) LinkOrCreate(ctx context.Context, assertion *Assertion) (*Outcome, error) {
	if err := assertion.Validate(); err != nil {
		return nil, err
	}

	identity, err := l.Store.FindByFederated(ctx, assertion.Provider, assertion.Subject)
	if err != nil {
		return nil, storeErr(err)
	}
	if identity != nil {
		return l.authenticated(ctx, identity)
	}

	identity = &Identity{
		ID:          NewIdentityID(),
		DisplayName: assertion.DisplayName,
		Email:       assertion.Email,
		Federated:   map[string]string{assertion.Provider: assertion.Subject},
	}
	if err := l.Store.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			// Lost a race with another callback for the same subject, or
			// the assertion email collides with a local registration. Only
			// the former is ours to resolve: re-fetch by subject, and if a
			// record now exists authenticate it. An email collision stays
			// a distinct-record situation, so retry creation without the
			// email rather than silently merging accounts.
			won, ferr := l.Store.FindByFederated(ctx, assertion.Provider, assertion.Subject)
			if ferr != nil {
				return nil, storeErr(ferr)
			}
			if won != nil {
				return l.authenticated(ctx, won)
			}
			identity.Email = ""
			if cerr := l.Store.Create(ctx, identity); cerr != nil {
				return nil, storeErr(cerr)
			}
			return l.authenticated(ctx, identity)
		}
		return nil, storeErr(err)
	}

	return l.authenticated(ctx, identity)
}

// AddLink attaches a further provider assertion to an already-authenticated
// identity, retrying once on a version conflict. It refuses to steal a
// subject already linked elsewhere.
func (l *Linker) AddLink(ctx context.Context, identityID string, assertion *Assertion) error {
	if err := assertion.Validate(); err != nil {
		return err
	}

	existing, err := l.Store.FindByFederated(ctx, assertion.Provider, assertion.Subject)
	if err != nil {
		return storeErr(err)
	}
	if existing != nil {
		if existing.ID == identityID {
			return nil
		}
		return ErrDuplicateIdentifier
	}

	apply := func() error {
		identity, err := l.Store.FindByID(ctx, identityID)
		if err != nil {
			return storeErr(err)
		}
		if identity == nil {
			return ErrIdentityNotFound
		}
		if identity.Federated == nil {
			identity.Federated = make(map[string]string)
		}
		identity.Federated[assertion.Provider] = assertion.Subject
		return l.Store.Save(ctx, identity)
	}

	if err := apply(); errors.Is(err, ErrConcurrentModification) {
		return apply()
	} else {
		return err
	}
}

func (l *Linker) authenticated(ctx context.Context, identity *Identity) (*Outcome, error) {
	auth := &Authenticator{Sessions: l.Sessions, SessionTTL: l.SessionTTL}
	return auth.authenticated(ctx, identity)
}
