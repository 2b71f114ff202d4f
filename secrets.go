package confide

import (
	"context"
	"errors"
	"strings"
)

// Secrets owns the anonymous-secrets operations: an authenticated identity
// may append free-text secrets to its own record and read everyone's.
//
// Submit is a read-modify-write on a single identity record. Concurrent
// submissions by the same identity can race; the single retry below narrows
// the window but last-write-wins remains possible. Known lost-update risk,
// accepted for this workload.
type Secrets struct {
	Store IdentityStore
}

// Submit appends text to the identity's secrets. A version conflict is
// retried once by re-fetching and re-appending; a second conflict surfaces
// as ErrConcurrentModification for the caller to render as transient.
func (s *Secrets) Submit(ctx context.Context, identityID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("secret text required")
	}

	apply := func() error {
		identity, err := s.Store.FindByID(ctx, identityID)
		if err != nil {
			return storeErr(err)
		}
		if identity == nil {
			return ErrIdentityNotFound
		}
		identity.Secrets = append(identity.Secrets, text)
		return s.Store.Save(ctx, identity)
	}

	if err := apply(); errors.Is(err, ErrConcurrentModification) {
		return apply()
	} else {
		return err
	}
}

// SecretLister is an optional IdentityStore capability backing the shared
// secrets page. Stores that can enumerate records implement it; the secrets
// themselves stay anonymous because only the text crosses this boundary.
type SecretLister interface {
	AllSecrets(ctx context.Context) ([]string, error)
}

// ListAll returns every secret across all identities, anonymously. The
// backing store must implement SecretLister.
func (s *Secrets) ListAll(ctx context.Context) ([]string, error) {
	lister, ok := s.Store.(SecretLister)
	if !ok {
		return nil, errors.New("identity store cannot list secrets")
	}
	all, err := lister.AllSecrets(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return all, nil
}

// ListFor returns the secrets submitted by one identity, in submission
// order.
func (s *Secrets) ListFor(ctx context.Context, identityID string) ([]string, error) {
	identity, err := s.Store.FindByID(ctx, identityID)
	if err != nil {
		return nil, storeErr(err)
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}
	return identity.Secrets, nil
}
