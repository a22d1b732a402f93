package auth

import "context"

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID       string
	Username string
	Role     string
	// TokenID is the jti of the bearer token.
	TokenID string
}

type ctxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the caller stored in ctx, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}
