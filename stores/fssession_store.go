package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/confide-dev/confide"
)

// FSSessionStore stores sessions as JSON files keyed by token. Expired
// sessions are deleted lazily on resolve.
type FSSessionStore struct {
	StoragePath string
}

func NewFSSessionStore(storagePath string) *FSSessionStore {
	return &FSSessionStore{StoragePath: storagePath}
}

func (s *FSSessionStore) sessionPath(token string) string {
	return filepath.Join(s.StoragePath, "sessions", token+".json")
}

// validSessionToken reports whether token could have been issued by this
// store. Tokens arrive as raw cookie values, so anything outside the
// base64url alphabet is rejected before it can reach a filesystem path.
func validSessionToken(token string) bool {
	if token == "" {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

func (s *FSSessionStore) Issue(ctx context.Context, identityID string, ttl time.Duration) (string, error) {
	token, err := confide.NewSessionToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	session := &confide.Session{
		Token:      token,
		IdentityID: identityID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	path := s.sessionPath(token)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeAtomicFile(path, data); err != nil {
		return "", err
	}
	return token, nil
}

func (s *FSSessionStore) Resolve(ctx context.Context, token string) (string, error) {
	if !validSessionToken(token) {
		return "", nil
	}
	data, err := os.ReadFile(s.sessionPath(token))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var session confide.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return "", err
	}
	if session.IsExpired() {
		_ = s.Revoke(ctx, token)
		return "", nil
	}
	return session.IdentityID, nil
}

func (s *FSSessionStore) Revoke(ctx context.Context, token string) error {
	if !validSessionToken(token) {
		return nil
	}
	err := os.Remove(s.sessionPath(token))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
