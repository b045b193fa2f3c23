package guard

import "context"

type authContextKey struct{}

// ContextWithAuth stores the allowed AuthContext in context.
func ContextWithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext extracts the AuthContext placed by a guard middleware.
func AuthFromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
