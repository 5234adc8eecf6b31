package keylog

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/buffer"
	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
)

const (
	// DefaultFlushInterval is the idle window after which the next key
	// flushes the accumulated segment.
	DefaultFlushInterval = time.Second
	// DefaultMaxPending is the rune count beyond which a segment flushes.
	DefaultMaxPending = 20

	maskToken = "*"
)

// Aggregator coalesces the raw press/release stream into flushed keystroke
// entries, masking everything after a sensitive-field marker is detected.
// Sensitive mode is a one-way latch: it stays on across flushes and is
// cleared only by a Shift+Tab release. All handlers serialize on one mutex;
// the aggregator is the sole writer of its output ring.
type Aggregator struct {
	mu         sync.Mutex
	classifier *Classifier
	out        *buffer.Ring[snapshot.KeystrokeEntry]

	pending   string
	sensitive bool
	lastFlush time.Time

	flushInterval time.Duration
	maxPending    int
	clock         func() time.Time
	log           zerolog.Logger
}

// Options configure an Aggregator. Zero values fall back to the package
// defaults; Clock defaults to time.Now.
type Options struct {
	Classifier    *Classifier
	Out           *buffer.Ring[snapshot.KeystrokeEntry]
	FlushInterval time.Duration
	MaxPending    int
	Clock         func() time.Time
	Logger        zerolog.Logger
}

// NewAggregator constructs an Aggregator writing into opts.Out.
func NewAggregator(opts Options) *Aggregator {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	maxPending := opts.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	a := &Aggregator{
		classifier:    classifier,
		out:           opts.Out,
		flushInterval: flushInterval,
		maxPending:    maxPending,
		clock:         clock,
		log:           opts.Logger.With().Str("component", "keystroke-aggregator").Logger(),
	}
	a.lastFlush = clock()
	return a
}

var _ Handler = (*Aggregator)(nil)

// KeyPressed handles one press event. Classification runs against the text
// accumulated so far, before the new token lands, so the final character of
// a marker word is recorded literally and everything after it is masked.
func (a *Aggregator) KeyPressed(key Key, mods Modifiers) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.sensitive && a.classifier.Sensitive(a.pending) {
		a.sensitive = true
		a.log.Debug().Msg("sensitive input detected, masking keystrokes")
	}

	tok, err := key.Token()
	if err != nil {
		a.log.Warn().Err(err).Msg("skipping malformed key event")
		return
	}
	if a.sensitive {
		tok = maskToken
	}
	a.pending += tok

	now := a.clock()
	if now.Sub(a.lastFlush) > a.flushInterval ||
		strings.HasPrefix(tok, "[") ||
		utf8.RuneCountInString(a.pending) > a.maxPending {
		a.flushLocked(now)
	}
}

// KeyReleased handles one release event. Enter and Tab releases flush
// immediately so line-oriented input lands promptly. A Tab release with
// Shift held clears sensitive mode; nothing else does.
func (a *Aggregator) KeyReleased(key Key, mods Modifiers) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if key.Name == NameEnter || key.Name == NameTab {
		a.flushLocked(a.clock())
	}
	if key.Name == NameTab && mods.Shift {
		if a.sensitive {
			a.log.Debug().Msg("leaving sensitive mode")
		}
		a.sensitive = false
	}
}

// Stop performs one final flush so trailing input is not dropped.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked(a.clock())
}

// SetClassifier swaps the marker set, effective from the next keystroke.
func (a *Aggregator) SetClassifier(c *Classifier) {
	if c == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.classifier = c
}

// flushLocked pushes the pending segment, when non-empty, and resets the
// buffering window. The window resets even on an empty flush; sensitive mode
// is never touched here.
func (a *Aggregator) flushLocked(now time.Time) {
	if a.pending != "" {
		a.out.Push(snapshot.KeystrokeEntry{
			Timestamp: now.UTC().Truncate(time.Second),
			Content:   a.pending,
		})
	}
	a.pending = ""
	a.lastFlush = now
}
