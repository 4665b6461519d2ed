package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	oa "github.com/panyam/authsdk"
)

// TokenResolver turns an access token into the id of the user it belongs
// to. *authsdk.Authenticator implements it.
type TokenResolver interface {
	ResolveUserID(ctx context.Context, token string) (string, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Resolver validates bearer tokens. Required.
	Resolver TokenResolver

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(resolver TokenResolver) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Resolver:      resolver,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(resolver TokenResolver, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(resolver)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(resolver TokenResolver) *InterceptorConfig {
	config := DefaultInterceptorConfig(resolver)
	config.RequireAuth = false
	return config
}

func ensureDefaults(config *InterceptorConfig) *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	if config.PublicMethods == nil {
		config.PublicMethods = make(map[string]bool)
	}
	return config
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates
// the bearer token in the request metadata.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = ensureDefaults(config)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that authenticates
// the bearer token in the stream metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = ensureDefaults(config)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// authenticate resolves the caller and returns a context whose incoming
// metadata carries only the verified user id. A user id supplied by the
// client is always discarded.
func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	md = md.Copy()
	md.Delete(config.MetadataKeyUserID)

	required := config.RequireAuth && !config.PublicMethods[method]

	token := bearerFromIncoming(md, config.Config)
	if token == "" || config.Resolver == nil {
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return metadata.NewIncomingContext(ctx, md), nil
	}

	userID, err := config.Resolver.ResolveUserID(ctx, token)
	if err != nil {
		if oa.KindOf(err) == "" {
			return nil, status.Error(codes.Internal, "failed to authenticate")
		}
		if required {
			return nil, status.Error(codes.Unauthenticated, oa.MessageOf(err))
		}
		return metadata.NewIncomingContext(ctx, md), nil
	}
	md.Set(config.MetadataKeyUserID, userID)
	return metadata.NewIncomingContext(ctx, md), nil
}
