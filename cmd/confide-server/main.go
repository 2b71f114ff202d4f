// Command confide-server runs the secrets site with file-backed stores.
// Intended for development; production deployments embed the confide
// package with a database-backed store instead.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/confide-dev/confide"
	confideoauth "github.com/confide-dev/confide/oauth2"
	"github.com/confide-dev/confide/stores"
)

func main() {
	addr := flag.String("addr", ":3000", "listen address")
	storagePath := flag.String("storage", "./data", "storage directory for identities and sessions")
	flag.Parse()

	if err := os.MkdirAll(*storagePath, 0755); err != nil {
		log.Fatal("failed to create storage dir: ", err)
	}

	cfg := confide.ConfigFromEnv()
	identities := stores.NewFSIdentityStore(*storagePath)
	sessions := stores.NewFSSessionStore(*storagePath)

	app, err := confide.NewApp(cfg, identities, sessions)
	if err != nil {
		log.Fatal("failed to build app: ", err)
	}

	if os.Getenv("OAUTH2_GOOGLE_CLIENT_ID") != "" {
		app.AddProvider(confideoauth.NewGoogle("", "", ""))
	}
	if os.Getenv("OAUTH2_FACEBOOK_CLIENT_ID") != "" {
		app.AddProvider(confideoauth.NewFacebook("", "", ""))
	}

	log.Println("listening on ", *addr)
	if err := http.ListenAndServe(*addr, app.Handler()); err != nil {
		log.Fatal(err)
	}
}
