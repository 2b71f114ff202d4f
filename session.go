package confide

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is how long an issued session stays resolvable unless
// configured otherwise.
const DefaultSessionTTL = 24 * time.Hour

// Session binds an opaque token to an identity id for its lifetime.
type Session struct {
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the session has passed its expiry.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionStore maps authenticated identities to opaque, revocable tokens.
//
// Resolve returns ("", nil) for an unknown, expired, or revoked token -
// callers must treat that as "re-authenticate", never as a distinct
// identity and never as a system error.
type SessionStore interface {
	// Issue creates a new session for identityID and returns its token.
	Issue(ctx context.Context, identityID string, ttl time.Duration) (string, error)

	// Resolve returns the identity id bound to token, or "" when the token
	// is unknown, expired, or revoked.
	Resolve(ctx context.Context, token string) (string, error)

	// Revoke invalidates token. Revoking an unknown token is not an error.
	Revoke(ctx context.Context, token string) error
}

// NewSessionToken generates a cryptographically secure opaque token.
// 32 bytes = 256 bits of entropy.
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SessionSigner mints and verifies stateless JWT companions to the opaque
// session token. The app layer hands the JWT to browsers and API clients so
// the middleware and the gRPC interceptor can authenticate without a store
// round trip; logout still revokes the opaque token.
type SessionSigner struct {
	SecretKey string
	Issuer    string

	// TTL defaults to DefaultSessionTTL.
	TTL time.Duration
}

// Sign mints a token whose subject is the identity id.
func (s *SessionSigner) Sign(identityID string) (string, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": identityID,
		"iss": s.Issuer,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(s.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and returns the identity id it was minted for.
func (s *SessionSigner) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.SecretKey), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("subject not found")
	}
	return sub, nil
}
