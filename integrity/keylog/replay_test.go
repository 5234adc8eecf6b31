package keylog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal "github.com/integritydesk/integrity-assistant/integrity"
	"github.com/integritydesk/integrity-assistant/integrity/buffer"
	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
)

type recordedEvent struct {
	kind string
	key  Key
	mods Modifiers
}

type recordingHandler struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (h *recordingHandler) KeyPressed(k Key, m Modifiers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{kind: "press", key: k, mods: m})
}

func (h *recordingHandler) KeyReleased(k Key, m Modifiers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{kind: "release", key: k, mods: m})
}

func (h *recordingHandler) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *recordingHandler) snapshot() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedEvent(nil), h.events...)
}

func instantSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// TestReplayDeliversScript tests ordered delivery of a parsed script
func TestReplayDeliversScript(t *testing.T) {
	script := `
# typing "hi" then enter
{"at_ms": 0, "kind": "press", "char": "h"}
{"at_ms": 40, "kind": "press", "char": "i"}

{"at_ms": 90, "kind": "press", "name": "Enter"}
{"at_ms": 140, "kind": "release", "name": "Enter", "shift": false}
`
	src, err := NewReplaySource(strings.NewReader(script), zerolog.Nop())
	require.NoError(t, err)
	src.sleep = instantSleep

	h := &recordingHandler{}
	require.NoError(t, src.Start(context.Background(), h))

	require.Eventually(t, func() bool { return h.len() == 4 }, time.Second, time.Millisecond)
	require.NoError(t, src.Stop())

	events := h.snapshot()
	assert.Equal(t, Char('h'), events[0].key)
	assert.Equal(t, "press", events[0].kind)
	assert.Equal(t, Special(NameEnter), events[2].key)
	assert.Equal(t, "release", events[3].kind)
}

// TestReplayRejectsUnknownKind tests that loading fails fast on a bad script
func TestReplayRejectsUnknownKind(t *testing.T) {
	_, err := NewReplaySource(strings.NewReader(`{"at_ms": 0, "kind": "hold", "char": "a"}`), zerolog.Nop())

	assert.Error(t, err)
}

// TestReplayRejectsBadJSON tests that malformed lines fail the load with the line number
func TestReplayRejectsBadJSON(t *testing.T) {
	_, err := NewReplaySource(strings.NewReader("{not json}"), zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

// TestReplayStartTwice tests that a second start is refused
func TestReplayStartTwice(t *testing.T) {
	src, err := NewReplaySource(strings.NewReader(""), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, src.Start(context.Background(), &recordingHandler{}))
	assert.Error(t, src.Start(context.Background(), &recordingHandler{}))
	require.NoError(t, src.Stop())
}

// TestReplayStopHaltsPlayback tests that stop interrupts a long sleep promptly
func TestReplayStopHaltsPlayback(t *testing.T) {
	script := `
{"at_ms": 0, "kind": "press", "char": "a"}
{"at_ms": 60000, "kind": "press", "char": "b"}
`
	src, err := NewReplaySource(strings.NewReader(script), zerolog.Nop())
	require.NoError(t, err)

	h := &recordingHandler{}
	require.NoError(t, src.Start(context.Background(), h))
	require.Eventually(t, func() bool { return h.len() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, src.Stop())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, h.len(), "second event never delivered")
}

// TestReplayDrivesAggregator tests the whole keystroke pipeline end to end
func TestReplayDrivesAggregator(t *testing.T) {
	var lines []string
	for _, c := range "password1" {
		lines = append(lines, `{"at_ms": 0, "kind": "press", "char": "`+string(c)+`"}`)
	}
	lines = append(lines, `{"at_ms": 0, "kind": "release", "name": "Tab", "shift": true}`)
	for _, c := range "ok" {
		lines = append(lines, `{"at_ms": 0, "kind": "press", "char": "`+string(c)+`"}`)
	}
	lines = append(lines, `{"at_ms": 0, "kind": "press", "name": "Enter"}`)

	src, err := NewReplaySource(strings.NewReader(strings.Join(lines, "\n")), zerolog.Nop())
	require.NoError(t, err)
	src.sleep = instantSleep

	ring := buffer.NewRing[snapshot.KeystrokeEntry](100)
	agg := NewAggregator(Options{
		Classifier: NewClassifier(internal.DefaultRedactionMarkers),
		Out:        ring,
		Logger:     zerolog.Nop(),
	})

	require.NoError(t, src.Start(context.Background(), agg))
	require.Eventually(t, func() bool { return ring.Len() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, src.Stop())
	agg.Stop()

	entries := ring.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "password*", entries[0].Content)
	assert.Equal(t, "ok[Enter]", entries[1].Content)
}
