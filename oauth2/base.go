// Package oauth2 implements the federated-provider handshakes for the
// confide app. Each provider completes the OAuth2 dance and distills the
// provider response into a confide.Assertion; everything after that is the
// linker's job.
package oauth2

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/confide-dev/confide"
)

// UserInfoFunc fetches the provider's profile for an exchanged token and
// maps it to an assertion.
type UserInfoFunc func(ctx context.Context, token *oauth2.Token) (*confide.Assertion, error)

// Provider is a confide.FederatedProvider built on golang.org/x/oauth2.
type Provider struct {
	name      string
	config    oauth2.Config
	fetchUser UserInfoFunc
}

// NewProvider wires an oauth2 config and a profile fetcher into a provider.
func NewProvider(name string, config oauth2.Config, fetchUser UserInfoFunc) *Provider {
	return &Provider{name: name, config: config, fetchUser: fetchUser}
}

func (p *Provider) Name() string { return p.name }

// BeginAuth drops the state cookie and redirects to the provider's consent
// page.
func (p *Provider) BeginAuth(w http.ResponseWriter, r *http.Request) {
	state := generateStateOauthCookie(w)
	http.Redirect(w, r, p.config.AuthCodeURL(state), http.StatusFound)
}

// CompleteAuth validates the state, exchanges the code, and fetches the
// provider profile. Any failure means no assertion - the caller redirects
// back to login rather than trusting a broken handshake.
func (p *Provider) CompleteAuth(w http.ResponseWriter, r *http.Request) (*confide.Assertion, error) {
	oauthState, _ := r.Cookie(stateCookieName)
	if oauthState == nil {
		return nil, fmt.Errorf("%w: missing oauth state", confide.ErrProviderAssertionInvalid)
	}
	// The state is single use; drop it whether or not the handshake
	// completes so the callback cannot be replayed.
	clearStateCookie(w)
	if r.FormValue("state") != oauthState.Value {
		return nil, fmt.Errorf("%w: oauth state mismatch", confide.ErrProviderAssertionInvalid)
	}

	token, err := p.config.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	assertion, err := p.fetchUser(r.Context(), token)
	if err != nil {
		return nil, err
	}
	assertion.Provider = p.name
	if err := assertion.Validate(); err != nil {
		return nil, err
	}
	return assertion, nil
}
