package confide

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// CipherEncoder is the reversible strategy: AES-256-GCM keyed by a
// process-wide secret passed in at construction. It satisfies "not stored in
// clear" at rest and nothing more - anyone holding the key can decode every
// stored secret. The key is derived from the configured passphrase with
// SHA-256 so callers can supply a human-managed secret of any length.
type CipherEncoder struct {
	aead cipher.AEAD
}

// NewCipherEncoder builds the reversible encoder from the process-wide key
// material. An empty key is refused rather than silently defaulted.
func NewCipherEncoder(key string) (*CipherEncoder, error) {
	if key == "" {
		return nil, fmt.Errorf("cipher encoder requires a non-empty key")
	}
	derived := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return &CipherEncoder{aead: aead}, nil
}

func (e *CipherEncoder) Name() string { return EncoderCipher }

// Encode seals the plaintext with a random nonce. The nonce is prepended to
// the ciphertext so Decode needs no extra state.
func (e *CipherEncoder) Encode(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode recovers the plaintext from an encoded form.
func (e *CipherEncoder) Decode(encoded string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed encoded secret")
	}
	if len(sealed) < e.aead.NonceSize() {
		return "", fmt.Errorf("malformed encoded secret")
	}
	nonce, ciphertext := sealed[:e.aead.NonceSize()], sealed[e.aead.NonceSize():]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("malformed encoded secret")
	}
	return string(plaintext), nil
}

// Verify decodes then compares in constant time. Decode failures and
// mismatches are the same answer.
func (e *CipherEncoder) Verify(plaintext, encoded string) bool {
	decoded, err := e.Decode(encoded)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(plaintext), []byte(decoded)) == 1
}
