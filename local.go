package confide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a terminal state of a registration, login, or federated linking
// attempt.
type State int

const (
	// StateAuthenticated - the attempt produced a trusted identity and a
	// fresh session.
	StateAuthenticated State = iota

	// StateRejectedDuplicate - registration found the email already taken.
	StateRejectedDuplicate

	// StateRejectedNoSuchUser - login found no identity with a local
	// credential for the email.
	StateRejectedNoSuchUser

	// StateRejectedBadCredential - login found the identity but the secret
	// did not verify.
	StateRejectedBadCredential
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRejectedDuplicate:
		return "rejected_duplicate"
	case StateRejectedNoSuchUser:
		return "rejected_no_such_user"
	case StateRejectedBadCredential:
		return "rejected_bad_credential"
	}
	return "unknown"
}

// Outcome is the result of an authentication attempt.
type Outcome struct {
	State State

	// Identity is set only when State is StateAuthenticated.
	Identity *Identity

	// SessionToken is the freshly issued opaque session token, set only
	// when State is StateAuthenticated and a SessionStore was configured.
	SessionToken string
}

// Authenticated reports whether the attempt ended in StateAuthenticated.
func (o *Outcome) Authenticated() bool {
	return o.State == StateAuthenticated
}

// Message renders the user-facing text for this outcome. The no-such-user
// and bad-credential rejections deliberately share one message so a caller
// (or an attacker watching responses) cannot tell whether the email exists.
func (o *Outcome) Message() string {
	switch o.State {
	case StateAuthenticated:
		return ""
	case StateRejectedDuplicate:
		return "Email already registered"
	default:
		return "Invalid credentials"
	}
}

// Authenticator orchestrates registration and login against the identity
// store using a credential encoder. It holds no state of its own beyond a
// cached dummy credential used to equalize verify timing.
type Authenticator struct {
	Store    IdentityStore
	Encoder  Encoder
	Sessions SessionStore

	// SessionTTL defaults to DefaultSessionTTL.
	SessionTTL time.Duration

	dummyOnce sync.Once
	dummy     string
}

// Register creates a new identity for (email, secret) and, on success, logs
// it straight in: registration implies login, so the outcome carries a fresh
// session. A duplicate email - found up front or lost in a create race - is
// rejected identically either way.
func (a *Authenticator) Register(ctx context.Context, email, secret string) (*Outcome, error) {
	existing, err := a.Store.FindByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err)
	}
	if existing != nil {
		return &Outcome{State: StateRejectedDuplicate}, nil
	}

	encoded, err := a.Encoder.Encode(secret)
	if err != nil {
		return nil, err
	}

	identity := &Identity{
		ID:         NewIdentityID(),
		Email:      email,
		Credential: encoded,
	}
	if err := a.Store.Create(ctx, identity); err != nil {
		// A concurrent registration may win the race between our lookup
		// and the insert; that is the same rejection as finding the email
		// up front.
		if errors.Is(err, ErrDuplicateIdentifier) {
			return &Outcome{State: StateRejectedDuplicate}, nil
		}
		return nil, storeErr(err)
	}

	return a.authenticated(ctx, identity)
}

// Login verifies (email, secret) against the stored credential. The missing-
// identity and federated-only branches burn a verify against a dummy
// credential so their timing matches the wrong-secret branch.
func (a *Authenticator) Login(ctx context.Context, email, secret string) (*Outcome, error) {
	identity, err := a.Store.FindByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err)
	}
	if identity == nil {
		a.Encoder.Verify(secret, a.dummyCredential())
		return &Outcome{State: StateRejectedNoSuchUser}, nil
	}
	if !identity.HasCredential() {
		// Identity exists only via federation; there is no local
		// credential to check against.
		a.Encoder.Verify(secret, a.dummyCredential())
		return &Outcome{State: StateRejectedNoSuchUser}, nil
	}
	if !a.Encoder.Verify(secret, identity.Credential) {
		return &Outcome{State: StateRejectedBadCredential}, nil
	}
	return a.authenticated(ctx, identity)
}

// ResetCredential re-encodes a new secret for an existing identity, retrying
// once on a version conflict.
func (a *Authenticator) ResetCredential(ctx context.Context, email, newSecret string) error {
	encoded, err := a.Encoder.Encode(newSecret)
	if err != nil {
		return err
	}

	apply := func() error {
		identity, err := a.Store.FindByEmail(ctx, email)
		if err != nil {
			return storeErr(err)
		}
		if identity == nil {
			return ErrIdentityNotFound
		}
		identity.Credential = encoded
		return a.Store.Save(ctx, identity)
	}

	if err := apply(); errors.Is(err, ErrConcurrentModification) {
		return apply()
	} else {
		return err
	}
}

func (a *Authenticator) authenticated(ctx context.Context, identity *Identity) (*Outcome, error) {
	out := &Outcome{State: StateAuthenticated, Identity: identity}
	if a.Sessions == nil {
		return out, nil
	}
	ttl := a.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	token, err := a.Sessions.Issue(ctx, identity.ID, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	out.SessionToken = token
	return out, nil
}

func (a *Authenticator) dummyCredential() string {
	a.dummyOnce.Do(func() {
		encoded, err := a.Encoder.Encode("confide-timing-equalizer")
		if err != nil {
			slog.Warn("failed to prepare dummy credential", "err", err)
			return
		}
		a.dummy = encoded
	})
	return a.dummy
}

// storeErr tags persistence failures so they surface as a transient 503
// instead of leaking driver details or crashing the request.
func storeErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
