package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ea "github.com/panyam/eventauth"
)

// HeaderAuthenticator authenticates an "Authorization" header value.
// *ea.SessionValidator implements it.
type HeaderAuthenticator interface {
	AuthenticateHeader(header string) (int64, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	Authenticator HeaderAuthenticator

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed without an identity in the context.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(authenticator HeaderAuthenticator) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Authenticator: authenticator,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(authenticator HeaderAuthenticator, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(authenticator)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(authenticator HeaderAuthenticator) *InterceptorConfig {
	config := DefaultInterceptorConfig(authenticator)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// authenticate returns ctx with the caller's identity id attached, or an
// Unauthenticated status when the method requires one
func (c *InterceptorConfig) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	if id, ok := c.extractIdentityID(ctx); ok {
		return ea.ContextWithIdentityID(ctx, id), nil
	}
	if c.RequireAuth && !c.PublicMethods[fullMethod] {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

func (c *InterceptorConfig) extractIdentityID(ctx context.Context) (int64, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, false
	}

	if values := md.Get(c.Config.MetadataKeyAuthorization); len(values) > 0 && c.Authenticator != nil {
		id, err := c.Authenticator.AuthenticateHeader(values[0])
		return id, err == nil
	}

	if c.Config.TrustForwardedID {
		return forwardedIdentityID(md, c.Config)
	}
	return 0, false
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates
// the access token in the request metadata.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		authedCtx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(authedCtx, req)
	}
}

// authedStream overrides the stream context with the authenticated one
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}

// StreamAuthInterceptor returns a gRPC stream interceptor that authenticates
// the access token in the stream metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authedCtx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: authedCtx})
	}
}
