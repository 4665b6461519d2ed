// Package grpc carries authsdk authentication into gRPC services. Clients
// attach the access token as "authorization: Bearer <token>" metadata; the
// server interceptors resolve it to a user id and stamp that id into the
// incoming metadata, where handlers read it with UserIDFromContext.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	oa "github.com/panyam/authsdk"
)

const (
	DefaultMetadataKeyUserID        = "x-user-id"
	DefaultMetadataKeyAuthorization = "authorization"
)

// Config names the metadata keys. Zero values fall back to the defaults.
type Config struct {
	// MetadataKeyUserID carries the verified user id on the server side
	MetadataKeyUserID string

	// MetadataKeyAuthorization carries "Bearer <token>" from the client
	MetadataKeyAuthorization string
}

func DefaultConfig() *Config {
	c := &Config{}
	c.EnsureDefaults()
	return c
}

func (c *Config) EnsureDefaults() {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

func (c *Config) userKey() string {
	if c == nil || c.MetadataKeyUserID == "" {
		return DefaultMetadataKeyUserID
	}
	return c.MetadataKeyUserID
}

func (c *Config) authKey() string {
	if c == nil || c.MetadataKeyAuthorization == "" {
		return DefaultMetadataKeyAuthorization
	}
	return c.MetadataKeyAuthorization
}

// UserIDFromContext returns the user id stamped by the auth interceptors,
// or "" for anonymous calls.
func UserIDFromContext(ctx context.Context) string {
	return UserIDFromContextWithConfig(ctx, nil)
}

// UserIDFromContextWithConfig is UserIDFromContext for a custom metadata key.
func UserIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if values := metadata.ValueFromIncomingContext(ctx, config.userKey()); len(values) > 0 {
		return values[0]
	}
	return ""
}

// IsAuthenticated reports whether the interceptors resolved a user.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// bearerFromIncoming returns the bearer token the client sent, if any.
func bearerFromIncoming(md metadata.MD, config *Config) string {
	values := md.Get(config.authKey())
	if len(values) == 0 {
		return ""
	}
	token, _ := oa.BearerToken(values[0])
	return token
}

// TokenToOutgoingContext attaches an access token to outgoing metadata for a
// single call. Use TokenCredentials to attach one to every call on a
// connection.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// TokenCredentials implements credentials.PerRPCCredentials with a fixed or
// dynamically fetched access token:
//
//	conn, _ := grpc.NewClient(addr,
//	    grpc.WithTransportCredentials(creds),
//	    grpc.WithPerRPCCredentials(authgrpc.TokenCredentials{Source: client.GetToken}))
type TokenCredentials struct {
	// Token is used when Source is nil
	Token string

	// Source, when set, is asked for a token on every call, e.g.
	// (*client.AuthClient).GetToken, which refreshes expiring tokens.
	Source func(ctx context.Context) (string, error)

	// AllowInsecure permits sending the token over a plaintext connection
	AllowInsecure bool
}

func (c TokenCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token := c.Token
	if c.Source != nil {
		var err error
		if token, err = c.Source(ctx); err != nil {
			return nil, err
		}
	}
	if token == "" {
		return nil, nil
	}
	return map[string]string{DefaultMetadataKeyAuthorization: "Bearer " + token}, nil
}

func (c TokenCredentials) RequireTransportSecurity() bool {
	return !c.AllowInsecure
}
