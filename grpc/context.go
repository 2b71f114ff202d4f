// Package grpc lets gRPC services gate their methods on a resolved confide
// session. Clients send the opaque session token (or a signed JWT) in
// request metadata; the interceptor resolves it to an identity id and makes
// it available to handlers through the context.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys.
const (
	// DefaultMetadataKeyToken is the gRPC metadata key carrying the session token
	DefaultMetadataKeyToken = "x-session-token"
)

type identityIDKey struct{}

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyToken is the gRPC metadata key for the session token.
	// Defaults to "x-session-token".
	MetadataKeyToken string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeyToken: DefaultMetadataKeyToken}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyToken == "" {
		c.MetadataKeyToken = DefaultMetadataKeyToken
	}
}

// IdentityIDFromContext returns the identity id the interceptor resolved
// for this request, or "" when the request is unauthenticated.
func IdentityIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(identityIDKey{}).(string); ok {
		return v
	}
	return ""
}

// IsAuthenticated reports whether the request carries a resolved identity.
func IsAuthenticated(ctx context.Context) bool {
	return IdentityIDFromContext(ctx) != ""
}

// TokenToOutgoingContext adds the session token to outgoing gRPC metadata.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return TokenToOutgoingContextWithKey(ctx, token, DefaultMetadataKeyToken)
}

// TokenToOutgoingContextWithKey adds the session token with a custom key.
func TokenToOutgoingContextWithKey(ctx context.Context, token, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, token)
}

func withIdentityID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityIDKey{}, id)
}

func tokenFromContext(ctx context.Context, config *Config) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyToken); len(values) > 0 {
		return values[0]
	}
	return ""
}
