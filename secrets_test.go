package confide_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/confide-dev/confide"
	"github.com/confide-dev/confide/stores"
)

func TestSubmitAndList(t *testing.T) {
	dir := t.TempDir()
	store := stores.NewFSIdentityStore(dir)
	secrets := &confide.Secrets{Store: store}
	auth := &confide.Authenticator{Store: store, Encoder: confide.BcryptEncoder{Cost: 4}}
	ctx := context.Background()

	ann, err := auth.Register(ctx, "ann@x.com", "hunter2")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	bob, err := auth.Register(ctx, "bob@x.com", "hunter2")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for _, text := range []string{"first secret", "second secret"} {
		if err := secrets.Submit(ctx, ann.Identity.ID, text); err != nil {
			t.Fatalf("Submit(%q) failed: %v", text, err)
		}
	}
	if err := secrets.Submit(ctx, bob.Identity.ID, "  bob's secret  "); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	mine, err := secrets.ListFor(ctx, ann.Identity.ID)
	if err != nil {
		t.Fatalf("ListFor failed: %v", err)
	}
	if !slices.Equal(mine, []string{"first secret", "second secret"}) {
		t.Errorf("ListFor = %v, want submission order preserved", mine)
	}

	all, err := secrets.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListAll returned %d secrets, want 3", len(all))
	}
	if !slices.Contains(all, "bob's secret") {
		t.Errorf("ListAll = %v; submitted text should be trimmed, not dropped", all)
	}
}

func TestSubmitValidation(t *testing.T) {
	store := stores.NewFSIdentityStore(t.TempDir())
	secrets := &confide.Secrets{Store: store}
	ctx := context.Background()

	if err := secrets.Submit(ctx, "some-id", "   "); err == nil {
		t.Error("Blank secret should be rejected")
	}
	if err := secrets.Submit(ctx, "no-such-id", "a secret"); !errors.Is(err, confide.ErrIdentityNotFound) {
		t.Errorf("Submit for unknown identity = %v, want ErrIdentityNotFound", err)
	}
}

// conflictingStore wraps a real store and forces the next n Saves to fail
// with a version conflict.
type conflictingStore struct {
	confide.IdentityStore
	conflicts int
}

func (c *conflictingStore) Save(ctx context.Context, identity *confide.Identity) error {
	if c.conflicts > 0 {
		c.conflicts--
		return confide.ErrConcurrentModification
	}
	return c.IdentityStore.Save(ctx, identity)
}

func TestSubmitRetriesOnceOnConflict(t *testing.T) {
	fs := stores.NewFSIdentityStore(t.TempDir())
	ctx := context.Background()

	identity := &confide.Identity{ID: confide.NewIdentityID(), Email: "a@x.com"}
	if err := fs.Create(ctx, identity); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	store := &conflictingStore{IdentityStore: fs, conflicts: 1}
	secrets := &confide.Secrets{Store: store}
	if err := secrets.Submit(ctx, identity.ID, "a secret"); err != nil {
		t.Fatalf("One conflict should be absorbed by the retry: %v", err)
	}

	store.conflicts = 2
	err := secrets.Submit(ctx, identity.ID, "another secret")
	if !errors.Is(err, confide.ErrConcurrentModification) {
		t.Errorf("Two conflicts = %v, want ErrConcurrentModification surfaced", err)
	}
}
