package confide_test

import (
	"context"
	"errors"
	"testing"

	"github.com/confide-dev/confide"
	"github.com/confide-dev/confide/stores"
)

func setupTestLinker(t *testing.T) (*confide.Linker, *stores.FSIdentityStore) {
	t.Helper()
	dir := t.TempDir()
	identityStore := stores.NewFSIdentityStore(dir)
	linker := &confide.Linker{
		Store:    identityStore,
		Sessions: stores.NewFSSessionStore(dir),
	}
	return linker, identityStore
}

func TestLinkOrCreateIdempotent(t *testing.T) {
	linker, _ := setupTestLinker(t)
	ctx := context.Background()

	assertion := &confide.Assertion{
		Provider:    "google",
		Subject:     "g-123",
		DisplayName: "Ann",
	}

	first, err := linker.LinkOrCreate(ctx, assertion)
	if err != nil {
		t.Fatalf("LinkOrCreate failed: %v", err)
	}
	if !first.Authenticated() {
		t.Fatalf("First assertion outcome = %v, want authenticated", first.State)
	}
	if first.Identity.DisplayName != "Ann" {
		t.Errorf("DisplayName = %q, want %q", first.Identity.DisplayName, "Ann")
	}
	if first.SessionToken == "" {
		t.Error("Federated sign-in should issue a session")
	}

	// The same (provider, subject) resolves to the same record every time,
	// even when the profile decoration has changed.
	assertion.DisplayName = "Ann Renamed"
	second, err := linker.LinkOrCreate(ctx, assertion)
	if err != nil {
		t.Fatalf("Repeat LinkOrCreate failed: %v", err)
	}
	if second.Identity.ID != first.Identity.ID {
		t.Errorf("Repeat assertion created %s, want existing %s", second.Identity.ID, first.Identity.ID)
	}
}

func TestLinkOrCreateKeysOnSubjectNotEmail(t *testing.T) {
	linker, store := setupTestLinker(t)
	ctx := context.Background()

	// A local registration already holds this email. A provider asserting
	// the same email must not be merged into that account.
	local := &confide.Identity{
		ID:         confide.NewIdentityID(),
		Email:      "ann@x.com",
		Credential: "stored-credential",
	}
	if err := store.Create(ctx, local); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	out, err := linker.LinkOrCreate(ctx, &confide.Assertion{
		Provider: "google",
		Subject:  "g-123",
		Email:    "ann@x.com",
	})
	if err != nil {
		t.Fatalf("LinkOrCreate failed: %v", err)
	}
	if !out.Authenticated() {
		t.Fatalf("Outcome = %v, want authenticated", out.State)
	}
	if out.Identity.ID == local.ID {
		t.Error("Provider-asserted email must not take over the local account")
	}
	if out.Identity.HasCredential() {
		t.Error("Federated-created identity must not carry a local credential")
	}
}

func TestLinkOrCreateDistinctSubjects(t *testing.T) {
	linker, _ := setupTestLinker(t)
	ctx := context.Background()

	google, err := linker.LinkOrCreate(ctx, &confide.Assertion{Provider: "google", Subject: "id-1"})
	if err != nil {
		t.Fatalf("LinkOrCreate failed: %v", err)
	}
	facebook, err := linker.LinkOrCreate(ctx, &confide.Assertion{Provider: "facebook", Subject: "id-1"})
	if err != nil {
		t.Fatalf("LinkOrCreate failed: %v", err)
	}
	if google.Identity.ID == facebook.Identity.ID {
		t.Error("Same subject string on different providers must stay distinct identities")
	}
}

func TestLinkOrCreateRejectsInvalidAssertion(t *testing.T) {
	linker, _ := setupTestLinker(t)
	ctx := context.Background()

	for _, assertion := range []*confide.Assertion{
		nil,
		{Provider: "google"},
		{Subject: "g-123"},
	} {
		if _, err := linker.LinkOrCreate(ctx, assertion); !errors.Is(err, confide.ErrProviderAssertionInvalid) {
			t.Errorf("LinkOrCreate(%+v) err = %v, want ErrProviderAssertionInvalid", assertion, err)
		}
	}
}

func TestAddLink(t *testing.T) {
	linker, store := setupTestLinker(t)
	ctx := context.Background()

	out, err := linker.LinkOrCreate(ctx, &confide.Assertion{Provider: "google", Subject: "g-123"})
	if err != nil {
		t.Fatalf("LinkOrCreate failed: %v", err)
	}
	id := out.Identity.ID

	if err := linker.AddLink(ctx, id, &confide.Assertion{Provider: "facebook", Subject: "f-9"}); err != nil {
		t.Fatalf("AddLink failed: %v", err)
	}
	linked, err := store.FindByFederated(ctx, "facebook", "f-9")
	if err != nil {
		t.Fatalf("FindByFederated failed: %v", err)
	}
	if linked == nil || linked.ID != id {
		t.Fatal("Added link should resolve to the same identity")
	}

	// Re-adding the same link is a no-op.
	if err := linker.AddLink(ctx, id, &confide.Assertion{Provider: "facebook", Subject: "f-9"}); err != nil {
		t.Errorf("Idempotent AddLink = %v, want nil", err)
	}

	// A subject already claimed by another identity cannot be stolen.
	other, err := linker.LinkOrCreate(ctx, &confide.Assertion{Provider: "google", Subject: "g-999"})
	if err != nil {
		t.Fatalf("LinkOrCreate failed: %v", err)
	}
	err = linker.AddLink(ctx, other.Identity.ID, &confide.Assertion{Provider: "facebook", Subject: "f-9"})
	if !errors.Is(err, confide.ErrDuplicateIdentifier) {
		t.Errorf("Stealing a linked subject = %v, want ErrDuplicateIdentifier", err)
	}
}
