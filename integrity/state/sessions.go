package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/integritydesk/integrity-assistant/integrity/auth"
)

// SessionStore persists the login session in the state database. The table
// holds at most one row; a new login replaces the previous session.
type SessionStore struct {
	db *sql.DB
}

var _ auth.SessionStore = (*SessionStore)(nil)

// NewSessionStore wraps db with session persistence.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save stores s, replacing any previous session.
func (s *SessionStore) Save(ctx context.Context, sess auth.Session) error {
	const query = `
		INSERT INTO auth_sessions (id, user_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		sess.UserID, sess.AccessToken, sess.RefreshToken,
		sess.ExpiresAt.UTC().Unix(), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the stored session or auth.ErrNotAuthenticated.
func (s *SessionStore) Load(ctx context.Context) (auth.Session, error) {
	const query = `
		SELECT user_id, access_token, refresh_token, expires_at
		FROM auth_sessions WHERE id = 1`

	var (
		sess      auth.Session
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&sess.UserID, &sess.AccessToken, &sess.RefreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNotAuthenticated
	}
	if err != nil {
		return auth.Session{}, fmt.Errorf("load session: %w", err)
	}

	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return sess, nil
}

// Clear removes the stored session. Clearing an empty store is not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
