package auth

import "context"

type contextKey struct{}

// WithUserID returns a context carrying the authenticated user id. Set by
// the access-gate middleware once the token and verification state check out.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFromContext extracts the authenticated user id placed by the gate.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKey{}).(int64)
	return id, ok
}
