// Package confide is the authentication core of a "secrets" site: users
// register or log in, then post anonymous secrets visible to other
// authenticated users.
//
// The package separates the credential-handling concerns that tutorial
// versions of this app usually tangle together into five pieces.
//
// # Architecture
//
// Encoder: turns a plaintext secret into its at-rest form and verifies
// plaintexts against it. Four strategies ship - plain, reversible cipher,
// unsalted fast hash, and adaptive bcrypt (the default) - selected by
// configuration, not by duplicating route logic.
//
// IdentityStore: the durable user record. Exclusive authority over
// create/read/update, with atomic unique-create over the email and every
// (provider, subject) federated pair.
//
// Authenticator: the local registration/login state machine. Registration
// implies login; login rejections for unknown users and wrong secrets are
// indistinguishable in message and timing.
//
// Linker: find-or-create reconciliation of external provider assertions
// against local identities, keyed strictly on (provider, subject). Accounts
// are never merged by email.
//
// SessionStore: opaque, revocable token bound to an identity id. Every
// protected operation resolves the token first; a miss means
// re-authenticate.
//
// # Basic Usage
//
// Set up a store and session backend, then assemble the app:
//
//	import (
//	    "github.com/confide-dev/confide"
//	    "github.com/confide-dev/confide/stores"
//	)
//
//	storagePath := "/path/to/storage"
//	identities := stores.NewFSIdentityStore(storagePath)
//	sessions := stores.NewFSSessionStore(storagePath)
//
//	cfg := confide.ConfigFromEnv()
//	app, err := confide.NewApp(cfg, identities, sessions)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":3000", app.Handler())
//
// Add federated providers:
//
//	import confideoauth "github.com/confide-dev/confide/oauth2"
//
//	app.AddProvider(confideoauth.NewGoogle("", "", ""))
//	app.AddProvider(confideoauth.NewFacebook("", "", ""))
//
// # Store Implementations
//
// The stores package holds file-based implementations suitable for
// development and tests. stores/gorm backs both stores with a relational
// database and transactional unique-create; stores/gae backs the identity
// store with Google Cloud Datastore.
//
// # Security
//
// The default encoder is bcrypt with default cost. Session tokens are
// cryptographically secure 32-byte values. Login failure responses never
// reveal whether an email is registered.
package confide
