//go:build !wasm
// +build !wasm

package gorm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/confide-dev/confide"
	gormstore "github.com/confide-dev/confide/stores/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "confide.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	return db
}

func TestGormIdentityStoreDuplicates(t *testing.T) {
	store := gormstore.NewIdentityStore(setupTestDB(t))
	ctx := context.Background()

	first := &confide.Identity{
		ID:         confide.NewIdentityID(),
		Email:      "a@x.com",
		Credential: "encoded-credential",
		Federated:  map[string]string{"google": "g-123"},
	}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The unique index rejects a second record with the same email, and the
	// rejection arrives as the store's sentinel, not a raw driver error.
	dupEmail := &confide.Identity{ID: confide.NewIdentityID(), Email: "a@x.com"}
	if err := store.Create(ctx, dupEmail); !errors.Is(err, confide.ErrDuplicateIdentifier) {
		t.Fatalf("Duplicate email create = %v, want ErrDuplicateIdentifier", err)
	}

	// Same for the composite (provider, subject) key.
	dupLink := &confide.Identity{
		ID:        confide.NewIdentityID(),
		Email:     "b@x.com",
		Federated: map[string]string{"google": "g-123"},
	}
	if err := store.Create(ctx, dupLink); !errors.Is(err, confide.ErrDuplicateIdentifier) {
		t.Fatalf("Duplicate federated create = %v, want ErrDuplicateIdentifier", err)
	}

	found, err := store.FindByFederated(ctx, "google", "g-123")
	if err != nil || found == nil || found.ID != first.ID {
		t.Errorf("FindByFederated = %v, %v, want the original record", found, err)
	}
	miss, err := store.FindByEmail(ctx, "b@x.com")
	if err != nil || miss != nil {
		t.Errorf("Lookup after failed create = %v, %v, want miss", miss, err)
	}
}

func TestGormIdentityStoreSave(t *testing.T) {
	store := gormstore.NewIdentityStore(setupTestDB(t))
	ctx := context.Background()

	identity := &confide.Identity{
		ID:         confide.NewIdentityID(),
		Email:      "a@x.com",
		Credential: "encoded-credential",
	}
	if err := store.Create(ctx, identity); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, _ := store.FindByID(ctx, identity.ID)
	second, _ := store.FindByID(ctx, identity.ID)

	first.Secrets = append(first.Secrets, "winner")
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second.Secrets = append(second.Secrets, "loser")
	if err := store.Save(ctx, second); !errors.Is(err, confide.ErrConcurrentModification) {
		t.Fatalf("Stale save = %v, want ErrConcurrentModification", err)
	}

	ghost := &confide.Identity{ID: confide.NewIdentityID(), Version: 1}
	if err := store.Save(ctx, ghost); !errors.Is(err, confide.ErrIdentityNotFound) {
		t.Fatalf("Save of unknown identity = %v, want ErrIdentityNotFound", err)
	}

	current, _ := store.FindByID(ctx, identity.ID)
	if len(current.Secrets) != 1 || current.Secrets[0] != "winner" {
		t.Errorf("Secrets = %v, stale save must not clobber the winner", current.Secrets)
	}
}

func TestGormSessionStoreLifecycle(t *testing.T) {
	store := gormstore.NewSessionStore(setupTestDB(t))
	ctx := context.Background()

	token, err := store.Issue(ctx, "identity-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	id, err := store.Resolve(ctx, token)
	if err != nil || id != "identity-1" {
		t.Fatalf("Resolve = %q, %v", id, err)
	}

	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	id, err = store.Resolve(ctx, token)
	if err != nil || id != "" {
		t.Errorf("Revoked token resolved to %q, %v", id, err)
	}

	expired, err := store.Issue(ctx, "identity-1", -time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	id, err = store.Resolve(ctx, expired)
	if err != nil || id != "" {
		t.Errorf("Expired token resolved to %q, %v", id, err)
	}

	if err := store.CleanupExpiredSessions(ctx); err != nil {
		t.Errorf("CleanupExpiredSessions failed: %v", err)
	}
}
