package confide

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type identityIDKey struct{}

// Middleware gates protected routes behind a resolved session. Resolution
// tries, in order: the caller-provided session getter (browser cookie
// session), the opaque session-token cookie against the SessionStore, and
// finally any bearer tokens through VerifyToken. A miss everywhere is a
// gating failure - redirect or 401 - never a distinct identity.
type Middleware struct {
	// Sessions resolves opaque session tokens. Optional.
	Sessions SessionStore

	// SessionGetter returns the logged-in identity id stashed in the
	// browser session, if any. Optional.
	SessionGetter func(r *http.Request) string

	// VerifyToken verifies a stateless token (JWT) into an identity id.
	// Optional.
	VerifyToken func(tokenString string) (identityID string, err error)

	// SessionCookieName is the cookie carrying the opaque session token.
	SessionCookieName string

	// AuthTokenHeaderName defaults to "Authorization".
	AuthTokenHeaderName string

	// LoginURL, when set, turns gating failures into redirects carrying
	// the original path in CallbackURLParam. Otherwise a plain 401.
	LoginURL         string
	CallbackURLParam string
}

// EnsureDefaults fills in default values for any unset fields.
func (m *Middleware) EnsureDefaults() {
	if m.AuthTokenHeaderName == "" {
		m.AuthTokenHeaderName = "Authorization"
	}
	if m.SessionCookieName == "" {
		m.SessionCookieName = "confideSession"
	}
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
}

// IdentityID returns the resolved identity id for the request, or "".
func IdentityID(ctx context.Context) string {
	if v, ok := ctx.Value(identityIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ResolveIdentity resolves the current identity id from the request without
// enforcing anything.
func (m *Middleware) ResolveIdentity(r *http.Request) string {
	if m.SessionGetter != nil {
		if id := m.SessionGetter(r); id != "" {
			return id
		}
	}

	if m.Sessions != nil {
		for _, cookie := range r.CookiesNamed(m.SessionCookieName) {
			if cookie.Value == "" {
				continue
			}
			id, err := m.Sessions.Resolve(r.Context(), cookie.Value)
			if err != nil {
				slog.Warn("error resolving session token", "err", err)
				continue
			}
			if id != "" {
				return id
			}
		}
	}

	if m.VerifyToken != nil {
		for _, header := range r.Header.Values(m.AuthTokenHeaderName) {
			token := strings.TrimPrefix(header, "Bearer ")
			id, err := m.VerifyToken(token)
			if err == nil && id != "" {
				return id
			}
		}
	}

	return ""
}

// ExtractIdentity loads the identity id (if any) into the request context
// for downstream handlers. It never rejects.
func (m *Middleware) ExtractIdentity(next http.Handler) http.Handler {
	m.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, m.withIdentityID(m.ResolveIdentity(r), r))
	})
}

// RequireIdentity enforces a resolved session before the protected handler
// runs.
func (m *Middleware) RequireIdentity(next http.Handler) http.Handler {
	m.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := m.ResolveIdentity(r)
		if id == "" {
			if m.LoginURL != "" {
				encoded := strings.Replace(url.QueryEscape(r.URL.Path), "+", "%20", -1)
				http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", m.LoginURL, m.CallbackURLParam, encoded), http.StatusFound)
			} else {
				http.Error(w, "Login required", http.StatusUnauthorized)
			}
			return
		}
		next.ServeHTTP(w, m.withIdentityID(id, r))
	})
}

func (m *Middleware) withIdentityID(id string, r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityIDKey{}, id))
}
