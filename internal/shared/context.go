package shared

import "context"

// Identity describes the pre-authenticated caller of a request. The upstream
// gateway validates credentials; Palisade only receives the extracted subject
// and tenant domain.
type Identity struct {
	UserID string
	Domain string
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ident)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityContextKey{}).(Identity)
	return ident, ok
}
