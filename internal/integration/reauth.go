// ABOUTME: Caller-side helper that re-authenticates once after a rejected token
// ABOUTME: Used by callers that want one transparent retry on token expiry

package integration

import "context"

// CallWithReauth runs fn. If fn fails with *TokenExpiredError, the client is
// re-authenticated and fn runs exactly once more; its result is final.
func CallWithReauth[T any](ctx context.Context, c Client, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err == nil || !IsTokenExpired(err) {
		return out, err
	}

	if err := c.EnsureAuthenticated(ctx); err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx)
}
