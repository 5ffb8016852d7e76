// ABOUTME: Authenticated identity propagation through request contexts
// ABOUTME: Provides WithIdentity/IdentityFromContext for handlers

package auth

import (
	"context"
)

// Identity holds the authenticated caller extracted from a request.
// APIKeyID is empty for requests authenticated via user session token.
type Identity struct {
	UserID   string
	APIKeyID string
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context, returning nil if not present.
func IdentityFromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
