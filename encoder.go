package confide

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Encoder turns a plaintext secret into its storable representation and
// verifies a plaintext against a stored representation. Implementations are
// pure and safe for concurrent use.
//
// Verify reports only success or failure. No strategy distinguishes WHY a
// verification failed - callers get the same answer for a malformed stored
// form and a wrong plaintext, so nothing about account state leaks.
type Encoder interface {
	// Name identifies the strategy in config and stored records.
	Name() string

	// Encode produces the storable form of plaintext.
	Encode(plaintext string) (string, error)

	// Verify reports whether plaintext matches the stored encoded form.
	Verify(plaintext, encoded string) bool
}

// Encoder strategy names, selectable via Config.EncoderName.
const (
	EncoderPlain    = "plain"
	EncoderCipher   = "cipher"
	EncoderFastHash = "fasthash"
	EncoderBcrypt   = "bcrypt"
)

// NewEncoder constructs the named strategy. The cipher strategy needs
// cfg.CipherKey; bcrypt honors cfg.BcryptCost when non-zero.
func NewEncoder(name string, cfg *Config) (Encoder, error) {
	switch name {
	case EncoderPlain:
		return PlainEncoder{}, nil
	case EncoderCipher:
		return NewCipherEncoder(cfg.CipherKey)
	case EncoderFastHash:
		return FastHashEncoder{}, nil
	case EncoderBcrypt, "":
		cost := bcrypt.DefaultCost
		if cfg != nil && cfg.BcryptCost != 0 {
			cost = cfg.BcryptCost
		}
		return BcryptEncoder{Cost: cost}, nil
	}
	return nil, fmt.Errorf("unknown encoder strategy: %q", name)
}

// PlainEncoder stores the secret as-is. No confidentiality at rest; it exists
// as the baseline the other strategies are measured against.
type PlainEncoder struct{}

func (PlainEncoder) Name() string { return EncoderPlain }

func (PlainEncoder) Encode(plaintext string) (string, error) {
	return plaintext, nil
}

func (PlainEncoder) Verify(plaintext, encoded string) bool {
	return subtle.ConstantTimeCompare([]byte(plaintext), []byte(encoded)) == 1
}

// FastHashEncoder stores an unsalted MD5 digest. Weak against precomputation
// tables; kept only because one historical variant of the app shipped it.
// Not recommended for anything.
type FastHashEncoder struct{}

func (FastHashEncoder) Name() string { return EncoderFastHash }

func (FastHashEncoder) Encode(plaintext string) (string, error) {
	sum := md5.Sum([]byte(plaintext))
	return hex.EncodeToString(sum[:]), nil
}

func (FastHashEncoder) Verify(plaintext, encoded string) bool {
	sum := md5.Sum([]byte(plaintext))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(encoded)) == 1
}

// BcryptEncoder is the adaptive-hash strategy and the default. Each Encode
// embeds a fresh random salt in its output; Cost is the work factor, tuned so
// one Verify lands around 100ms on reference hardware.
type BcryptEncoder struct {
	Cost int
}

func (BcryptEncoder) Name() string { return EncoderBcrypt }

func (e BcryptEncoder) Encode(plaintext string) (string, error) {
	cost := e.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

func (e BcryptEncoder) Verify(plaintext, encoded string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext)) == nil
}
