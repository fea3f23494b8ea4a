package auth

import (
	"context"

	"relayhub/internal/domain"
)

// Static resolves every token to itself. It mirrors deployments without an
// auth provider, where the connection token simply is the username.
type Static struct{}

// Resolve returns the token as the username.
func (Static) Resolve(_ context.Context, token domain.Token) (domain.UserRecord, error) {
	return domain.UserRecord{Username: domain.Username(token)}, nil
}

// ResolverFunc adapts a function to the domain.IdentityResolver interface.
type ResolverFunc func(ctx context.Context, token domain.Token) (domain.UserRecord, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, token domain.Token) (domain.UserRecord, error) {
	return f(ctx, token)
}

var (
	_ domain.IdentityResolver = Static{}
	_ domain.IdentityResolver = (ResolverFunc)(nil)
)
