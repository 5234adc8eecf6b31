package state

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integritydesk/integrity-assistant/integrity/auth"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open("file:"+filepath.Join(t.TempDir(), "state.db"), "libsql", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	path := "file:" + filepath.Join(t.TempDir(), "nested", "dir", "state.db")

	db, err := Open(path, "libsql", zerolog.Nop())
	require.NoError(t, err)

	for _, table := range []string{"auth_sessions", "query_journal"} {
		var name string
		err = db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s must exist after migration", table)
	}
	require.NoError(t, db.Close())

	// Reopening the same file must not re-run applied migrations.
	db, err = Open(path, "libsql", zerolog.Nop())
	require.NoError(t, err)
	db.Close()
}

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(openTestDB(t))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	first := auth.Session{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Save(ctx, first))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.WithinDuration(t, first.ExpiresAt, got.ExpiresAt, time.Second)

	// A second login replaces the stored session.
	second := auth.Session{
		UserID:       "user-2",
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, store.Save(ctx, second))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-2", got.UserID)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM auth_sessions`).Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	// Clearing an already empty store is fine.
	assert.NoError(t, store.Clear(ctx))
}

func TestQueryJournalRecordAndList(t *testing.T) {
	ctx := context.Background()
	journal := NewQueryJournal(openTestDB(t))

	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	for i, status := range []string{StatusOK, StatusThrottled, StatusOK} {
		err := journal.Record(ctx, QueryRecord{
			ID:               string(rune('a' + i)),
			SubmittedAt:      base.Add(time.Duration(i) * time.Minute),
			Status:           status,
			HTTPStatus:       200,
			LatencyMS:        int64(100 * (i + 1)),
			QueryChars:       10 + i,
			ScreenEntries:    i,
			KeystrokeEntries: i * 2,
		})
		require.NoError(t, err)
	}

	recent, err := journal.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)
	assert.Equal(t, StatusThrottled, recent[1].Status)
	assert.Equal(t, base.Add(2*time.Minute), recent[0].SubmittedAt)

	count, err := journal.CountSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = journal.CountSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}
