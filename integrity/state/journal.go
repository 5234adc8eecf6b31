package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Query journal statuses.
const (
	StatusOK        = "ok"
	StatusDenied    = "denied"    // rejected with an expired session
	StatusThrottled = "throttled" // rejected over the daily quota
	StatusFailed    = "failed"
)

// QueryRecord captures the metadata of one assistant query. The query text
// and the captured context never touch the journal.
type QueryRecord struct {
	ID               string
	SubmittedAt      time.Time
	Status           string
	HTTPStatus       int
	LatencyMS        int64
	QueryChars       int
	ScreenEntries    int
	KeystrokeEntries int
}

// QueryJournal records query submissions in the state database.
type QueryJournal struct {
	db *sql.DB
}

// NewQueryJournal wraps db with journal persistence.
func NewQueryJournal(db *sql.DB) *QueryJournal {
	return &QueryJournal{db: db}
}

// Record appends one submission to the journal.
func (j *QueryJournal) Record(ctx context.Context, rec QueryRecord) error {
	const query = `
		INSERT INTO query_journal
			(id, submitted_at, status, http_status, latency_ms, query_chars, screen_entries, keystroke_entries)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		rec.ID, rec.SubmittedAt.UTC().Unix(), rec.Status, rec.HTTPStatus,
		rec.LatencyMS, rec.QueryChars, rec.ScreenEntries, rec.KeystrokeEntries)
	if err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	return nil
}

// Recent returns up to limit journal entries, newest first.
func (j *QueryJournal) Recent(ctx context.Context, limit int) ([]QueryRecord, error) {
	const query = `
		SELECT id, submitted_at, status, http_status, latency_ms, query_chars, screen_entries, keystroke_entries
		FROM query_journal
		ORDER BY submitted_at DESC, id
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent queries: %w", err)
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		var (
			rec         QueryRecord
			submittedAt int64
		)
		if err := rows.Scan(&rec.ID, &submittedAt, &rec.Status, &rec.HTTPStatus,
			&rec.LatencyMS, &rec.QueryChars, &rec.ScreenEntries, &rec.KeystrokeEntries); err != nil {
			return nil, fmt.Errorf("scan query record: %w", err)
		}
		rec.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent queries: %w", err)
	}
	return records, nil
}

// CountSince returns how many queries were submitted at or after since.
func (j *QueryJournal) CountSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM query_journal WHERE submitted_at >= ?`

	var count int
	if err := j.db.QueryRowContext(ctx, query, since.UTC().Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queries: %w", err)
	}
	return count, nil
}
