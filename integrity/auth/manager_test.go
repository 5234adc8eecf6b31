package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managerNow = time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory SessionStore.
type memStore struct {
	mu   sync.Mutex
	sess Session
	set  bool
}

func (s *memStore) Save(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess, s.set = sess, true
	return nil
}

func (s *memStore) Load(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Session{}, ErrNotAuthenticated
	}
	return s.sess, nil
}

func (s *memStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess, s.set = Session{}, false
	return nil
}

func newTestManager(t *testing.T, handler http.Handler, store SessionStore) *Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{
		BaseURL: srv.URL,
		APIKey:  "anon-key",
		Clock:   func() time.Time { return managerNow },
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	mgr, err := NewManager(ManagerOptions{
		Client: client,
		Store:  store,
		Clock:  func() time.Time { return managerNow },
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return mgr
}

func tokenHandler(calls *atomic.Int64, access string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "fresh-refresh",
			"expires_in":    3600,
			"user":          map[string]string{"id": "user-42"},
		})
	})
}

func TestManagerLoginPersistsSession(t *testing.T) {
	var calls atomic.Int64
	store := &memStore{}
	mgr := newTestManager(t, tokenHandler(&calls, "access-1"), store)

	sess, err := mgr.Login(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "access-1", sess.AccessToken)
	assert.True(t, store.set, "login must persist the session")

	// The fresh session serves identity without further network calls.
	userID, err := mgr.CurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
	assert.Equal(t, int64(1), calls.Load())
}

func TestManagerRefreshesExpiredSession(t *testing.T) {
	var calls atomic.Int64
	store := &memStore{}
	store.Save(context.Background(), Session{
		AccessToken:  "stale-access",
		RefreshToken: "old-refresh",
		UserID:       "user-42",
		ExpiresAt:    managerNow.Add(-time.Minute),
	})
	mgr := newTestManager(t, tokenHandler(&calls, "new-access"), store)

	token, err := mgr.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "new-access", store.sess.AccessToken, "refreshed session must be persisted")

	// The refreshed session is cached; no second round trip.
	_, err = mgr.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestManagerValidSessionSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	store := &memStore{}
	store.Save(context.Background(), Session{
		AccessToken:  "live-access",
		RefreshToken: "live-refresh",
		UserID:       "user-42",
		ExpiresAt:    managerNow.Add(time.Hour),
	})
	mgr := newTestManager(t, tokenHandler(&calls, "unused"), store)

	token, err := mgr.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-access", token)
	assert.Zero(t, calls.Load())
}

func TestManagerRefreshRejected(t *testing.T) {
	store := &memStore{}
	store.Save(context.Background(), Session{
		AccessToken:  "stale-access",
		RefreshToken: "revoked-refresh",
		UserID:       "user-42",
		ExpiresAt:    managerNow.Add(-time.Minute),
	})
	mgr := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error_description": "Invalid Refresh Token"})
	}), store)

	_, err := mgr.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestManagerWithoutSession(t *testing.T) {
	mgr := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected without a session")
	}), &memStore{})

	_, err := mgr.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	err = mgr.Logout(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestManagerLogoutClearsSession(t *testing.T) {
	var signOuts atomic.Int64
	store := &memStore{}
	store.Save(context.Background(), Session{
		AccessToken:  "live-access",
		RefreshToken: "live-refresh",
		UserID:       "user-42",
		ExpiresAt:    managerNow.Add(time.Hour),
	})
	mgr := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/v1/logout" {
			signOuts.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		t.Errorf("unexpected request to %s", r.URL.Path)
	}), store)

	require.NoError(t, mgr.Logout(context.Background()))
	assert.Equal(t, int64(1), signOuts.Load())
	assert.False(t, store.set)

	_, err := mgr.CurrentUserID(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestManagerKeepsUserIDWhenRefreshOmitsIt(t *testing.T) {
	store := &memStore{}
	store.Save(context.Background(), Session{
		AccessToken:  "stale-access",
		RefreshToken: "old-refresh",
		UserID:       "user-42",
		ExpiresAt:    managerNow.Add(-time.Minute),
	})
	mgr := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}), store)

	userID, err := mgr.CurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}
