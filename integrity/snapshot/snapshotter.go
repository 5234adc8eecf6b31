package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/buffer"
)

// Snapshotter reads both rolling buffers plus identity metadata into
// immutable snapshots. It never mutates the buffers.
type Snapshotter struct {
	screens    *buffer.Ring[ScreenTextEntry]
	keystrokes *buffer.Ring[KeystrokeEntry]
	identity   IdentityProvider
	clock      func() time.Time
	log        zerolog.Logger
}

// Options configure a Snapshotter. Clock defaults to time.Now; a nil
// Identity yields snapshots without a user id.
type Options struct {
	Screens    *buffer.Ring[ScreenTextEntry]
	Keystrokes *buffer.Ring[KeystrokeEntry]
	Identity   IdentityProvider
	Clock      func() time.Time
	Logger     zerolog.Logger
}

// New constructs a Snapshotter over the two capture buffers.
func New(opts Options) *Snapshotter {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Snapshotter{
		screens:    opts.Screens,
		keystrokes: opts.Keystrokes,
		identity:   opts.Identity,
		clock:      clock,
		log:        opts.Logger.With().Str("component", "snapshotter").Logger(),
	}
}

// Take assembles a snapshot for userQuery. The query text is passed through
// untrimmed. Identity failure degrades to an absent user id; the snapshot is
// still produced so the submission can be attempted and rejected remotely if
// need be.
func (s *Snapshotter) Take(ctx context.Context, userQuery string) Snapshot {
	var userID string
	if s.identity != nil {
		id, err := s.identity.CurrentUserID(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("identity unavailable, snapshot proceeds without user id")
		} else {
			userID = id
		}
	}

	return Snapshot{
		ID:               uuid.New().String(),
		UserQuery:        userQuery,
		ScreenTexts:      s.screens.Snapshot(),
		RecentKeystrokes: s.keystrokes.Snapshot(),
		Metadata: Metadata{
			UserID:    userID,
			Timestamp: s.clock().UTC().Truncate(time.Second),
		},
	}
}
