package grpc_test

import (
	"context"
	"errors"
	"testing"

	confidegrpc "github.com/confide-dev/confide/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func mapResolver(sessions map[string]string) confidegrpc.TokenResolver {
	return func(ctx context.Context, token string) (string, error) {
		return sessions[token], nil
	}
}

func incomingCtx(token string) context.Context {
	if token == "" {
		return context.Background()
	}
	md := metadata.Pairs(confidegrpc.DefaultMetadataKeyToken, token)
	return metadata.NewIncomingContext(context.Background(), md)
}

func invoke(t *testing.T, interceptor grpc.UnaryServerInterceptor, ctx context.Context, method string) (string, error) {
	t.Helper()
	var resolved string
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
		resolved = confidegrpc.IdentityIDFromContext(ctx)
		return nil, nil
	})
	return resolved, err
}

func TestUnaryAuthInterceptor(t *testing.T) {
	resolver := mapResolver(map[string]string{"good-token": "identity-1"})

	tests := []struct {
		name     string
		config   *confidegrpc.InterceptorConfig
		token    string
		method   string
		wantID   string
		wantCode codes.Code
	}{
		{
			name:   "ValidToken",
			config: confidegrpc.DefaultInterceptorConfig(resolver),
			token:  "good-token",
			method: "/secrets.Secrets/Submit",
			wantID: "identity-1",
		},
		{
			name:     "MissingToken",
			config:   confidegrpc.DefaultInterceptorConfig(resolver),
			method:   "/secrets.Secrets/Submit",
			wantCode: codes.Unauthenticated,
		},
		{
			name:     "UnknownToken",
			config:   confidegrpc.DefaultInterceptorConfig(resolver),
			token:    "revoked-token",
			method:   "/secrets.Secrets/Submit",
			wantCode: codes.Unauthenticated,
		},
		{
			name:   "PublicMethod",
			config: confidegrpc.NewPublicMethodsConfig(resolver, "/secrets.Auth/Login"),
			method: "/secrets.Auth/Login",
		},
		{
			name:   "OptionalAuthMiss",
			config: confidegrpc.OptionalAuthConfig(resolver),
			method: "/secrets.Secrets/List",
		},
		{
			name:   "OptionalAuthHit",
			config: confidegrpc.OptionalAuthConfig(resolver),
			token:  "good-token",
			method: "/secrets.Secrets/List",
			wantID: "identity-1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			interceptor := confidegrpc.UnaryAuthInterceptor(tc.config)
			id, err := invoke(t, interceptor, incomingCtx(tc.token), tc.method)
			if tc.wantCode != codes.OK {
				if status.Code(err) != tc.wantCode {
					t.Fatalf("err = %v, want code %v", err, tc.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Interceptor failed: %v", err)
			}
			if id != tc.wantID {
				t.Errorf("Resolved identity = %q, want %q", id, tc.wantID)
			}
		})
	}
}

func TestUnaryAuthInterceptorResolverFailure(t *testing.T) {
	config := confidegrpc.DefaultInterceptorConfig(func(ctx context.Context, token string) (string, error) {
		return "", errors.New("store down")
	})
	interceptor := confidegrpc.UnaryAuthInterceptor(config)

	_, err := invoke(t, interceptor, incomingCtx("any-token"), "/secrets.Secrets/Submit")
	if status.Code(err) != codes.Unavailable {
		t.Errorf("err = %v, want code Unavailable", err)
	}
}

func TestTokenToOutgoingContext(t *testing.T) {
	ctx := confidegrpc.TokenToOutgoingContext(context.Background(), "tok-1")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("No outgoing metadata")
	}
	values := md.Get(confidegrpc.DefaultMetadataKeyToken)
	if len(values) != 1 || values[0] != "tok-1" {
		t.Errorf("Metadata = %v, want [tok-1]", values)
	}
}
