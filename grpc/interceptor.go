package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TokenResolver resolves a session token into an identity id. A miss is
// ("", nil): unknown, expired, and revoked tokens all look the same.
// confide.SessionStore.Resolve satisfies this directly; a SessionSigner can
// be wrapped to resolve stateless tokens instead.
type TokenResolver func(ctx context.Context, token string) (identityID string, err error)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Resolve turns the metadata token into an identity id.
	Resolve TokenResolver

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but IdentityIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all
// methods resolved through resolve.
func DefaultInterceptorConfig(resolve TokenResolver) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Resolve:       resolve,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(resolve TokenResolver, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(resolve)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(resolve TokenResolver) *InterceptorConfig {
	config := DefaultInterceptorConfig(resolve)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensure() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that resolves the
// session token from metadata before the handler runs.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensure()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		identityID, err := resolveIdentity(ctx, config)
		if err != nil {
			return nil, err
		}
		if config.RequireAuth && !config.PublicMethods[info.FullMethod] && identityID == "" {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return handler(withIdentityID(ctx, identityID), req)
	}
}

// StreamAuthInterceptor returns the stream counterpart of
// UnaryAuthInterceptor.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensure()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		identityID, err := resolveIdentity(ss.Context(), config)
		if err != nil {
			return err
		}
		if config.RequireAuth && !config.PublicMethods[info.FullMethod] && identityID == "" {
			return status.Error(codes.Unauthenticated, "authentication required")
		}
		return handler(srv, &identityStream{ServerStream: ss, identityID: identityID})
	}
}

func resolveIdentity(ctx context.Context, config *InterceptorConfig) (string, error) {
	token := tokenFromContext(ctx, config.Config)
	if token == "" || config.Resolve == nil {
		return "", nil
	}
	identityID, err := config.Resolve(ctx, token)
	if err != nil {
		return "", status.Error(codes.Unavailable, "session resolution failed")
	}
	return identityID, nil
}

// identityStream overrides Context so stream handlers see the resolved
// identity.
type identityStream struct {
	grpc.ServerStream
	identityID string
}

func (s *identityStream) Context() context.Context {
	return withIdentityID(s.ServerStream.Context(), s.identityID)
}
