package auth

import (
	"context"
	"errors"
)

// ErrNotAuthenticated is returned when no user is logged in.
var ErrNotAuthenticated = errors.New("auth: not logged in")

// SessionStore persists the login session across restarts. Load returns
// ErrNotAuthenticated when nothing is stored.
type SessionStore interface {
	Save(ctx context.Context, s Session) error
	Load(ctx context.Context) (Session, error)
	Clear(ctx context.Context) error
}
