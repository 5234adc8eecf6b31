// Package snapshot assembles point-in-time context documents from the
// rolling capture buffers.
package snapshot

import "time"

// ScreenTextEntry is one OCR result from the screen sampling loop.
// Immutable after creation.
type ScreenTextEntry struct {
	Timestamp time.Time
	Text      string
}

// KeystrokeEntry is one flushed segment of aggregated keystrokes. Content may
// be masked. Immutable after creation.
type KeystrokeEntry struct {
	Timestamp time.Time
	Content   string
}

// Metadata carries the identity and time a snapshot was taken. An empty
// UserID means identity was unavailable at snapshot time.
type Metadata struct {
	UserID    string
	Timestamp time.Time
}

// Snapshot is an immutable context document assembled once per user query.
// The slices are value copies of the buffers at snapshot time; later buffer
// writes never alter an already-produced Snapshot.
type Snapshot struct {
	ID               string
	UserQuery        string
	ScreenTexts      []ScreenTextEntry
	RecentKeystrokes []KeystrokeEntry
	Metadata         Metadata
}
