package confide_test

import (
	"testing"
	"time"

	"github.com/confide-dev/confide"
)

func TestSessionTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := confide.NewSessionToken()
		if err != nil {
			t.Fatalf("NewSessionToken failed: %v", err)
		}
		if seen[token] {
			t.Fatalf("Duplicate token generated: %s", token)
		}
		seen[token] = true
	}
}

func TestSessionSignerRoundTrip(t *testing.T) {
	signer := &confide.SessionSigner{SecretKey: "test-secret", Issuer: "TestIssuer"}

	signed, err := signer.Sign("identity-42")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	id, err := signer.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id != "identity-42" {
		t.Errorf("Verify = %q, want %q", id, "identity-42")
	}
}

func TestSessionSignerRejectsWrongKey(t *testing.T) {
	signer := &confide.SessionSigner{SecretKey: "test-secret"}
	other := &confide.SessionSigner{SecretKey: "other-secret"}

	signed, err := signer.Sign("identity-42")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := other.Verify(signed); err == nil {
		t.Error("Token signed with a different key should not verify")
	}
	if _, err := signer.Verify("not.a.jwt"); err == nil {
		t.Error("Garbage token should not verify")
	}
}

func TestSessionSignerRejectsExpired(t *testing.T) {
	signer := &confide.SessionSigner{SecretKey: "test-secret", TTL: time.Nanosecond}

	signed, err := signer.Sign("identity-42")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := signer.Verify(signed); err == nil {
		t.Error("Expired token should not verify")
	}
}
