package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Client *Client
	Store  SessionStore
	Clock  func() time.Time
	Logger zerolog.Logger
}

// Manager owns the login session: sign-in, sign-out and transparent refresh
// of expired access tokens.
type Manager struct {
	client *Client
	store  SessionStore
	clock  func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	current Session
	loaded  bool
}

var _ snapshot.IdentityProvider = (*Manager)(nil)

// NewManager builds a Manager from opts.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Client == nil {
		return nil, errors.New("auth: manager requires a client")
	}
	if opts.Store == nil {
		return nil, errors.New("auth: manager requires a session store")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Manager{
		client: opts.Client,
		store:  opts.Store,
		clock:  clock,
		log:    opts.Logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Login signs the user in and persists the session.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	sess, err := m.client.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = sess
	m.loaded = true
	if err := m.store.Save(ctx, sess); err != nil {
		m.log.Warn().Err(err).Msg("could not persist session, login valid for this run only")
	}
	m.log.Info().Str("user_id", sess.UserID).Msg("logged in")
	return sess, nil
}

// Logout revokes the session remotely and clears the stored copy. The local
// session is cleared even when the remote call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.load(ctx)
	if sess.AccessToken == "" {
		return ErrNotAuthenticated
	}

	if err := m.client.SignOut(ctx, sess.AccessToken); err != nil {
		m.log.Warn().Err(err).Msg("remote sign-out failed, clearing local session anyway")
	}
	m.current = Session{}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear stored session: %w", err)
	}
	m.log.Info().Msg("logged out")
	return nil
}

// Session returns a valid session, refreshing the access token when it has
// expired. ErrNotAuthenticated is returned when no session exists or the
// refresh is rejected.
func (m *Manager) Session(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.load(ctx)
	if sess.Valid(m.clock()) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		return Session{}, ErrNotAuthenticated
	}

	fresh, err := m.client.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		m.log.Warn().Err(err).Msg("session refresh rejected")
		return Session{}, ErrNotAuthenticated
	}
	if fresh.UserID == "" {
		fresh.UserID = sess.UserID
	}
	m.current = fresh
	if err := m.store.Save(ctx, fresh); err != nil {
		m.log.Warn().Err(err).Msg("could not persist refreshed session")
	}
	m.log.Debug().Time("expires_at", fresh.ExpiresAt).Msg("session refreshed")
	return fresh, nil
}

// Token returns a valid access token for API calls.
func (m *Manager) Token(ctx context.Context) (string, error) {
	sess, err := m.Session(ctx)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// CurrentUserID names the logged-in user for snapshot metadata.
func (m *Manager) CurrentUserID(ctx context.Context) (string, error) {
	sess, err := m.Session(ctx)
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}

// load returns the cached session, pulling it from the store on first use.
// Callers hold m.mu.
func (m *Manager) load(ctx context.Context) Session {
	if m.loaded {
		return m.current
	}
	m.loaded = true

	sess, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotAuthenticated) {
			m.log.Warn().Err(err).Msg("could not read stored session")
		}
		return m.current
	}
	m.current = sess
	return m.current
}
