// Package grpc applies eventauth sessions to gRPC services and forwards the
// authenticated identity between services via metadata.
package grpc

import (
	"context"
	"strconv"

	"google.golang.org/grpc/metadata"

	ea "github.com/panyam/eventauth"
)

const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyIdentityID carries an identity id forwarded by a
	// trusted upstream service
	DefaultMetadataKeyIdentityID = "x-identity-id"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyIdentityID defaults to "x-identity-id".
	MetadataKeyIdentityID string

	// TrustForwardedID accepts MetadataKeyIdentityID without a token. Only
	// enable it on services that are reachable from trusted peers alone.
	TrustForwardedID bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyIdentityID:    DefaultMetadataKeyIdentityID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyIdentityID == "" {
		c.MetadataKeyIdentityID = DefaultMetadataKeyIdentityID
	}
}

// IdentityIDFromContext returns the identity id the interceptor authenticated
func IdentityIDFromContext(ctx context.Context) (int64, bool) {
	return ea.IdentityIDFromContext(ctx)
}

// IsAuthenticated returns true if there is an authenticated identity in the context.
func IsAuthenticated(ctx context.Context) bool {
	_, ok := IdentityIDFromContext(ctx)
	return ok
}

// IdentityIDToOutgoingContext forwards id to a downstream service
func IdentityIDToOutgoingContext(ctx context.Context, id int64) context.Context {
	return IdentityIDToOutgoingContextWithKey(ctx, id, DefaultMetadataKeyIdentityID)
}

// IdentityIDToOutgoingContextWithKey forwards id under a custom metadata key
func IdentityIDToOutgoingContextWithKey(ctx context.Context, id int64, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, strconv.FormatInt(id, 10))
}

// AccessTokenToOutgoingContext attaches an access token for a downstream call
func AccessTokenToOutgoingContext(ctx context.Context, accessToken string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+accessToken)
}

// forwardedIdentityID reads a forwarded identity id from incoming metadata
func forwardedIdentityID(md metadata.MD, config *Config) (int64, bool) {
	values := md.Get(config.MetadataKeyIdentityID)
	if len(values) == 0 || values[0] == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
