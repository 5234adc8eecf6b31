package snapshot

import "context"

// IdentityProvider resolves the signed-in user. An error means identity is
// currently unavailable; snapshots degrade to an absent user id rather than
// failing.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// IdentityFunc adapts a function to the IdentityProvider interface.
type IdentityFunc func(ctx context.Context) (string, error)

func (f IdentityFunc) CurrentUserID(ctx context.Context) (string, error) { return f(ctx) }
