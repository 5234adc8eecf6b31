//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/auth"
	"github.com/integritydesk/integrity-assistant/integrity/state"
)

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// RunSmokeState verifies the embedded libsql driver end to end on this
// platform: open, pragmas, migrations, and one round trip through each
// store.
func RunSmokeState() {
	fmt.Println("Smoke test: state database")
	dir, err := os.MkdirTemp("", "integrity-smoke-*")
	must(err, "temp dir")
	defer os.RemoveAll(dir)

	db, err := state.Open("file:"+filepath.Join(dir, "smoke.db"), "", zerolog.Nop())
	must(err, "open")
	defer db.Close()

	var mode string
	must(db.QueryRow("PRAGMA journal_mode").Scan(&mode), "journal_mode")
	fmt.Println("OK: journal_mode ->", mode)

	var fk int
	must(db.QueryRow("PRAGMA foreign_keys").Scan(&fk), "foreign_keys")
	if fk != 1 {
		log.Fatalf("foreign_keys pragma returned %d", fk)
	}
	fmt.Println("OK: foreign_keys")

	ctx := context.Background()
	sessions := state.NewSessionStore(db)
	must(sessions.Save(ctx, auth.Session{
		AccessToken:  "smoke-access",
		RefreshToken: "smoke-refresh",
		UserID:       "smoke-user",
		ExpiresAt:    time.Now().Add(time.Hour),
	}), "session save")
	sess, err := sessions.Load(ctx)
	must(err, "session load")
	if sess.UserID != "smoke-user" {
		log.Fatalf("session round trip returned user %q", sess.UserID)
	}
	fmt.Println("OK: session round trip")
	must(sessions.Clear(ctx), "session clear")

	journal := state.NewQueryJournal(db)
	must(journal.Record(ctx, state.QueryRecord{
		ID:          "smoke-query",
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
		Status:      state.StatusOK,
		HTTPStatus:  200,
		LatencyMS:   12,
	}), "journal record")
	recs, err := journal.Recent(ctx, 1)
	must(err, "journal recent")
	if len(recs) != 1 || recs[0].ID != "smoke-query" {
		log.Fatalf("journal round trip returned %+v", recs)
	}
	fmt.Println("OK: journal round trip")

	fmt.Println("Smoke checks completed.")
}
