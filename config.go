package confide

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the auth core needs at construction time. There
// are no package-level globals: the store handle, the cipher key, and the
// JWT secret all travel through here into constructors.
type Config struct {
	// AppName prefixes cookie and session variable names. Defaults to
	// "Confide".
	AppName string

	// EncoderName selects the credential strategy: "plain", "cipher",
	// "fasthash", or "bcrypt" (the default).
	EncoderName string

	// CipherKey is the process-wide secret for the reversible strategy.
	CipherKey string

	// BcryptCost overrides the adaptive-hash work factor when non-zero.
	BcryptCost int

	// SessionTTL defaults to DefaultSessionTTL.
	SessionTTL time.Duration

	// JWTSecretKey signs the stateless session tokens.
	JWTSecretKey string

	// JWTIssuer defaults to "<AppName>-Issuer".
	JWTIssuer string

	// CookieDomains lists every domain the session cookies are set on.
	CookieDomains []string
}

// ConfigFromEnv populates a Config from CONFIDE_* environment variables.
func ConfigFromEnv() *Config {
	cfg := &Config{
		AppName:      os.Getenv("CONFIDE_APP_NAME"),
		EncoderName:  os.Getenv("CONFIDE_ENCODER"),
		CipherKey:    os.Getenv("CONFIDE_CIPHER_KEY"),
		JWTSecretKey: os.Getenv("CONFIDE_JWT_SECRET_KEY"),
		JWTIssuer:    os.Getenv("CONFIDE_JWT_ISSUER"),
	}
	if cost := os.Getenv("CONFIDE_BCRYPT_COST"); cost != "" {
		cfg.BcryptCost, _ = strconv.Atoi(cost)
	}
	if ttl := os.Getenv("CONFIDE_SESSION_TTL_SECONDS"); ttl != "" {
		if secs, err := strconv.Atoi(ttl); err == nil && secs > 0 {
			cfg.SessionTTL = time.Duration(secs) * time.Second
		}
	}
	if domains := os.Getenv("CONFIDE_COOKIE_DOMAINS"); domains != "" {
		for _, d := range strings.Split(domains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.CookieDomains = append(cfg.CookieDomains, d)
			}
		}
	}
	return cfg.EnsureDefaults()
}

// EnsureDefaults fills in defaults for any unset fields.
func (c *Config) EnsureDefaults() *Config {
	if c.AppName == "" {
		c.AppName = "Confide"
	}
	if c.EncoderName == "" {
		c.EncoderName = EncoderBcrypt
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = c.AppName + "-Issuer"
	}
	return c
}
