package confide

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// FederatedProvider is one external identity provider wired into the app.
// Implementations own the protocol handshake; the app only consumes the
// resulting assertion.
type FederatedProvider interface {
	// Name is the provider key used in /auth/{provider} routes.
	Name() string

	// BeginAuth sends the user agent off to the provider.
	BeginAuth(w http.ResponseWriter, r *http.Request)

	// CompleteAuth consumes the provider callback and returns the verified
	// assertion.
	CompleteAuth(w http.ResponseWriter, r *http.Request) (*Assertion, error)
}

// App wires the auth core to the route surface of the secrets site:
//
//	GET  /                         public home
//	GET|POST /login                local login
//	GET|POST /register             local registration
//	GET  /auth/{provider}          federated redirect
//	GET  /auth/{provider}/callback federated callback
//	GET  /secrets                  protected: everyone's secrets
//	GET|POST /submit               protected: submit a secret
//	GET  /logout                   revoke the session
//
// Rendering is left to the embedding application; handlers answer with JSON
// and redirects.
type App struct {
	Router  *mux.Router
	Session *scs.SessionManager

	Auth       *Authenticator
	Linker     *Linker
	Secrets    *Secrets
	Middleware *Middleware
	Signer     *SessionSigner
	Config     *Config

	providers map[string]FederatedProvider
}

// NewApp assembles the app from explicit collaborators. Nothing ambient: the
// store, session backend, and config all arrive here.
func NewApp(cfg *Config, store IdentityStore, sessions SessionStore) (*App, error) {
	cfg.EnsureDefaults()

	encoder, err := NewEncoder(cfg.EncoderName, cfg)
	if err != nil {
		return nil, err
	}

	session := scs.New()
	session.Lifetime = cfg.SessionTTL

	signer := &SessionSigner{
		SecretKey: cfg.JWTSecretKey,
		Issuer:    cfg.JWTIssuer,
		TTL:       cfg.SessionTTL,
	}

	app := &App{
		Session: session,
		Auth: &Authenticator{
			Store:      store,
			Encoder:    encoder,
			Sessions:   sessions,
			SessionTTL: cfg.SessionTTL,
		},
		Linker: &Linker{
			Store:      store,
			Sessions:   sessions,
			SessionTTL: cfg.SessionTTL,
		},
		Secrets:   &Secrets{Store: store},
		Signer:    signer,
		Config:    cfg,
		providers: make(map[string]FederatedProvider),
	}
	app.Middleware = &Middleware{
		Sessions: sessions,
		SessionGetter: func(r *http.Request) string {
			return session.GetString(r.Context(), "identityID")
		},
		VerifyToken:       signer.Verify,
		SessionCookieName: cfg.AppName + "Session",
		LoginURL:          "/login",
	}
	app.setupRoutes()
	return app, nil
}

// AddProvider registers a federated provider under /auth/{name}.
func (a *App) AddProvider(p FederatedProvider) *App {
	log.Println("Adding federated provider: ", p.Name())
	a.providers[p.Name()] = p
	return a
}

// Handler returns the full handler chain, session middleware included.
func (a *App) Handler() http.Handler {
	return a.Session.LoadAndSave(a.Router)
}

func (a *App) setupRoutes() {
	r := mux.NewRouter()
	r.HandleFunc("/", a.onHome).Methods("GET")
	r.HandleFunc("/login", a.onLoginForm).Methods("GET")
	r.HandleFunc("/login", a.onLogin).Methods("POST")
	r.HandleFunc("/register", a.onRegisterForm).Methods("GET")
	r.HandleFunc("/register", a.onRegister).Methods("POST")
	r.HandleFunc("/auth/{provider}", a.onFederatedBegin).Methods("GET")
	r.HandleFunc("/auth/{provider}/callback", a.onFederatedCallback).Methods("GET")
	r.Handle("/secrets", a.Middleware.RequireIdentity(http.HandlerFunc(a.onSecrets))).Methods("GET")
	r.Handle("/submit", a.Middleware.RequireIdentity(http.HandlerFunc(a.onSubmitForm))).Methods("GET")
	r.Handle("/submit", a.Middleware.RequireIdentity(http.HandlerFunc(a.onSubmit))).Methods("POST")
	r.HandleFunc("/logout", a.onLogout).Methods("GET")
	a.Router = r
}

func (a *App) onHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"app": a.Config.AppName})
}

func (a *App) onLoginForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"action": "/login", "fields": []string{"username", "password"}})
}

func (a *App) onRegisterForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"action": "/register", "fields": []string{"username", "password"}})
}

// The original site posts the email under "username"; accept "email" too.
func parseCredentialsForm(r *http.Request) (email, secret string, err error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return "", "", fmt.Errorf("error parsing form")
		}
		email = r.FormValue("username")
		if email == "" {
			email = r.FormValue("email")
		}
		secret = r.FormValue("password")
	} else {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return "", "", fmt.Errorf("invalid post body")
		}
		if u, ok := data["username"].(string); ok {
			email = u
		}
		if u, ok := data["email"].(string); ok && email == "" {
			email = u
		}
		if p, ok := data["password"].(string); ok {
			secret = p
		}
	}
	if email == "" || secret == "" {
		return "", "", fmt.Errorf("username and password required")
	}
	return email, secret, nil
}

func (a *App) onRegister(w http.ResponseWriter, r *http.Request) {
	email, secret, err := parseCredentialsForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	outcome, err := a.Auth.Register(r.Context(), email, secret)
	if err != nil {
		a.renderFailure(w, err)
		return
	}
	if !outcome.Authenticated() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": outcome.Message()})
		return
	}
	a.setLoggedIn(outcome, w, r)
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (a *App) onLogin(w http.ResponseWriter, r *http.Request) {
	email, secret, err := parseCredentialsForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	outcome, err := a.Auth.Login(r.Context(), email, secret)
	if err != nil {
		a.renderFailure(w, err)
		return
	}
	if !outcome.Authenticated() {
		// One body for every login rejection; see Outcome.Message.
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": outcome.Message()})
		return
	}
	a.setLoggedIn(outcome, w, r)
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (a *App) onFederatedBegin(w http.ResponseWriter, r *http.Request) {
	provider, ok := a.providers[mux.Vars(r)["provider"]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	provider.BeginAuth(w, r)
}

func (a *App) onFederatedCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := a.providers[mux.Vars(r)["provider"]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	assertion, err := provider.CompleteAuth(w, r)
	if err != nil {
		log.Println("federated callback failed: ", err)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	outcome, err := a.Linker.LinkOrCreate(r.Context(), assertion)
	if err != nil {
		if errors.Is(err, ErrProviderAssertionInvalid) {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		a.renderFailure(w, err)
		return
	}
	a.setLoggedIn(outcome, w, r)
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (a *App) onSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := a.Secrets.ListAll(r.Context())
	if err != nil {
		a.renderFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": secrets})
}

func (a *App) onSubmitForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"action": "/submit", "fields": []string{"secret"}})
}

func (a *App) onSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Error parsing form"})
		return
	}
	if err := a.Secrets.Submit(r.Context(), IdentityID(r.Context()), r.FormValue("secret")); err != nil {
		a.renderFailure(w, err)
		return
	}
	http.Redirect(w, r, "/secrets", http.StatusFound)
}

func (a *App) onLogout(w http.ResponseWriter, r *http.Request) {
	log.Println("Logging out user...")
	for _, cookie := range r.CookiesNamed(a.Middleware.SessionCookieName) {
		if cookie.Value == "" {
			continue
		}
		if err := a.Auth.Sessions.Revoke(r.Context(), cookie.Value); err != nil {
			slog.Warn("error revoking session token", "err", err)
		}
	}
	a.clearLoggedIn(w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}

// setLoggedIn binds the authenticated outcome to the browser: identity id in
// the server-side session, the opaque token and a signed JWT as cookies on
// every configured domain.
func (a *App) setLoggedIn(outcome *Outcome, w http.ResponseWriter, r *http.Request) {
	a.Session.Put(r.Context(), "identityID", outcome.Identity.ID)

	jwtCookieName := a.Config.AppName + "AuthToken"
	signed := ""
	if a.Signer.SecretKey != "" {
		var err error
		if signed, err = a.Signer.Sign(outcome.Identity.ID); err != nil {
			slog.Warn("error signing session token", "err", err)
		}
	}

	expires := time.Now().Add(a.Config.SessionTTL)
	maxAge := int(a.Config.SessionTTL / time.Second)
	domains := a.Config.CookieDomains
	if !slices.Contains(domains, "") { // default domain
		domains = append(domains, "")
	}
	for _, domain := range domains {
		http.SetCookie(w, &http.Cookie{
			Name:     a.Middleware.SessionCookieName,
			Value:    outcome.SessionToken,
			Domain:   domain,
			Path:     "/",
			Expires:  expires,
			MaxAge:   maxAge,
			HttpOnly: true,
		})
		if signed != "" {
			http.SetCookie(w, &http.Cookie{
				Name:     jwtCookieName,
				Value:    signed,
				Domain:   domain,
				Path:     "/",
				Expires:  expires,
				MaxAge:   maxAge,
				HttpOnly: true,
			})
		}
	}
}

func (a *App) clearLoggedIn(w http.ResponseWriter, r *http.Request) {
	if err := a.Session.Destroy(r.Context()); err != nil {
		slog.Warn("error clearing session", "err", err)
	}
	domains := a.Config.CookieDomains
	if !slices.Contains(domains, "") {
		domains = append(domains, "")
	}
	for _, domain := range domains {
		for _, name := range []string{a.Middleware.SessionCookieName, a.Config.AppName + "AuthToken"} {
			http.SetCookie(w, &http.Cookie{
				Name:    name,
				Domain:  domain,
				Path:    "/",
				MaxAge:  -1,
				Expires: time.Now(),
			})
		}
	}
}

// renderFailure maps core errors onto responses: expected outcomes never get
// here, concurrency conflicts are transient, and a dead store is a 503, not
// a crash.
func (a *App) renderFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "Please try again"})
	case errors.Is(err, ErrIdentityNotFound):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Login required"})
	case errors.Is(err, ErrStoreUnavailable):
		log.Println("store unavailable: ", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Service temporarily unavailable"})
	default:
		log.Println("request failed: ", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
