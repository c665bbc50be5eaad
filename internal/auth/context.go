// ABOUTME: Request-scoped identity for authenticated admin API calls
// ABOUTME: Provides WithAuth/FromContext for propagating the token subject

package auth

import "context"

// AuthContext is the verified identity of an API caller.
type AuthContext struct {
	// Subject is the token's "sub" claim, e.g. an operator name.
	Subject string
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext returns the AuthContext, or nil for unauthenticated requests.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
