package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integritydesk/integrity-assistant/integrity/buffer"
	"github.com/integritydesk/integrity-assistant/integrity/capture"
	"github.com/integritydesk/integrity-assistant/integrity/capture/adapters"
	"github.com/integritydesk/integrity-assistant/integrity/client"
	"github.com/integritydesk/integrity-assistant/integrity/config"
	"github.com/integritydesk/integrity-assistant/integrity/keylog"
	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
	"github.com/integritydesk/integrity-assistant/integrity/state"
)

var runtimeNow = time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

type scriptedAnswerer struct {
	mu     sync.Mutex
	snaps  []snapshot.Snapshot
	answer client.Answer
	err    error
}

func (a *scriptedAnswerer) Submit(ctx context.Context, snap snapshot.Snapshot) (client.Answer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
	return a.answer, a.err
}

type recordingJournal struct {
	mu   sync.Mutex
	recs []state.QueryRecord
	err  error
}

func (j *recordingJournal) Record(ctx context.Context, rec state.QueryRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return j.err
}

// stepClock returns runtimeNow on the first call and advances by step on
// every call after that.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := runtimeNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

type testRuntime struct {
	rt         *Runtime
	screens    *buffer.Ring[snapshot.ScreenTextEntry]
	keystrokes *buffer.Ring[snapshot.KeystrokeEntry]
	agg        *keylog.Aggregator
}

func newTestRuntime(t *testing.T, ans Answerer, j Journal) testRuntime {
	t.Helper()

	screens := buffer.NewRing[snapshot.ScreenTextEntry](30)
	keystrokes := buffer.NewRing[snapshot.KeystrokeEntry](100)
	sampler, err := capture.NewSampler(capture.Options{
		Source:    adapters.NopScreenSource{},
		Extractor: capture.NewExtractor(adapters.NopRecognizer{}, zerolog.Nop()),
		Out:       screens,
	})
	require.NoError(t, err)

	agg := keylog.NewAggregator(keylog.Options{Out: keystrokes})
	snapshotter := snapshot.New(snapshot.Options{
		Screens:    screens,
		Keystrokes: keystrokes,
		Identity: snapshot.IdentityFunc(func(ctx context.Context) (string, error) {
			return "user-1", nil
		}),
		Clock: func() time.Time { return runtimeNow },
	})

	rt, err := NewRuntime(Options{
		Screens:     screens,
		Keystrokes:  keystrokes,
		Sampler:     sampler,
		Source:      keylog.NopSource{},
		Aggregator:  agg,
		Snapshotter: snapshotter,
		Answerer:    ans,
		Journal:     j,
		Clock:       stepClock(250 * time.Millisecond),
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	return testRuntime{rt: rt, screens: screens, keystrokes: keystrokes, agg: agg}
}

func TestRuntimeSubmitQueryAnswersAndJournals(t *testing.T) {
	ans := &scriptedAnswerer{answer: client.Answer{Response: "All clear.", Status: 200}}
	journal := &recordingJournal{}
	env := newTestRuntime(t, ans, journal)

	env.screens.Push(snapshot.ScreenTextEntry{Timestamp: runtimeNow, Text: "invoice 42"})
	env.screens.Push(snapshot.ScreenTextEntry{Timestamp: runtimeNow, Text: "invoice 43"})
	env.keystrokes.Push(snapshot.KeystrokeEntry{Timestamp: runtimeNow, Content: "42[Enter]"})

	got, err := env.rt.SubmitQuery(context.Background(), "am I compliant?")
	require.NoError(t, err)
	assert.Equal(t, "All clear.", got)

	require.Len(t, ans.snaps, 1)
	snap := ans.snaps[0]
	assert.Equal(t, "am I compliant?", snap.UserQuery)
	assert.Len(t, snap.ScreenTexts, 2)
	assert.Len(t, snap.RecentKeystrokes, 1)
	assert.Equal(t, "user-1", snap.Metadata.UserID)

	require.Len(t, journal.recs, 1)
	rec := journal.recs[0]
	assert.Equal(t, snap.ID, rec.ID)
	assert.Equal(t, runtimeNow, rec.SubmittedAt)
	assert.Equal(t, state.StatusOK, rec.Status)
	assert.Equal(t, 200, rec.HTTPStatus)
	assert.Equal(t, int64(250), rec.LatencyMS)
	assert.Equal(t, 15, rec.QueryChars)
	assert.Equal(t, 2, rec.ScreenEntries)
	assert.Equal(t, 1, rec.KeystrokeEntries)
}

func TestRuntimeSubmitQueryRejectsEmptyInput(t *testing.T) {
	ans := &scriptedAnswerer{}
	journal := &recordingJournal{}
	env := newTestRuntime(t, ans, journal)

	for _, query := range []string{"", "   ", "\t\n"} {
		_, err := env.rt.SubmitQuery(context.Background(), query)
		assert.ErrorIs(t, err, client.ErrEmptyQuery)
	}
	assert.Empty(t, ans.snaps, "nothing should reach the backend")
	assert.Empty(t, journal.recs, "queries that never left should not be journaled")
}

func TestRuntimeSubmitQueryJournalsFailures(t *testing.T) {
	cases := []struct {
		name       string
		submitErr  error
		httpStatus int
		wantStatus string
	}{
		{"expired session", client.ErrSessionExpired, 401, state.StatusDenied},
		{"over quota", client.ErrQuotaExceeded, 429, state.StatusThrottled},
		{"backend failure", errors.New("server error (500): boom"), 500, state.StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ans := &scriptedAnswerer{answer: client.Answer{Status: tc.httpStatus}, err: tc.submitErr}
			journal := &recordingJournal{}
			env := newTestRuntime(t, ans, journal)

			got, err := env.rt.SubmitQuery(context.Background(), "anything new?")
			require.ErrorIs(t, err, tc.submitErr)
			assert.Empty(t, got)

			require.Len(t, journal.recs, 1)
			assert.Equal(t, tc.wantStatus, journal.recs[0].Status)
			assert.Equal(t, tc.httpStatus, journal.recs[0].HTTPStatus)
		})
	}
}

func TestRuntimeJournalFailureDoesNotMaskAnswer(t *testing.T) {
	ans := &scriptedAnswerer{answer: client.Answer{Response: "noted", Status: 200}}
	journal := &recordingJournal{err: errors.New("disk full")}
	env := newTestRuntime(t, ans, journal)

	got, err := env.rt.SubmitQuery(context.Background(), "still there?")
	require.NoError(t, err)
	assert.Equal(t, "noted", got)
}

func TestRuntimeStartStopLifecycle(t *testing.T) {
	screens := buffer.NewRing[snapshot.ScreenTextEntry](30)
	keystrokes := buffer.NewRing[snapshot.KeystrokeEntry](100)
	metrics := capture.NewMetrics()

	source := capture.ScreenSourceFunc(func(ctx context.Context) ([]byte, error) {
		return []byte("quarterly report"), nil
	})
	echo := capture.TextRecognizerFunc(func(ctx context.Context, image []byte) (string, error) {
		return string(image), nil
	})
	sampler, err := capture.NewSampler(capture.Options{
		Source:    source,
		Extractor: capture.NewExtractor(echo, zerolog.Nop()),
		Out:       screens,
		Metrics:   metrics,
		Interval:  5 * time.Millisecond,
	})
	require.NoError(t, err)

	agg := keylog.NewAggregator(keylog.Options{Out: keystrokes})
	rt, err := NewRuntime(Options{
		Screens:     screens,
		Keystrokes:  keystrokes,
		Sampler:     sampler,
		Metrics:     metrics,
		Source:      keylog.NopSource{},
		Aggregator:  agg,
		Snapshotter: snapshot.New(snapshot.Options{Screens: screens, Keystrokes: keystrokes}),
		Answerer:    &scriptedAnswerer{},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, rt.Start(context.Background()))
	require.Eventually(t, func() bool { return screens.Len() > 0 }, 2*time.Second, 5*time.Millisecond,
		"sampler should fill the screen ring")

	agg.KeyPressed(keylog.Char('h'), keylog.Modifiers{})
	agg.KeyPressed(keylog.Char('i'), keylog.Modifiers{})

	require.NoError(t, rt.Stop())

	entries := keystrokes.Snapshot()
	require.Len(t, entries, 1, "pending keystrokes flush on stop")
	assert.Equal(t, "hi", entries[0].Content)
	assert.Positive(t, rt.Metrics().Cycles)
	assert.Equal(t, "quarterly report", screens.Snapshot()[0].Text)

	assert.NoError(t, rt.Stop(), "second stop is a no-op")
}

func TestRuntimeStartTwiceFails(t *testing.T) {
	env := newTestRuntime(t, &scriptedAnswerer{}, &recordingJournal{})
	require.NoError(t, env.rt.Start(context.Background()))
	defer env.rt.Stop()

	assert.Error(t, env.rt.Start(context.Background()))
}

func TestRuntimeApplyConfigSwapsRedactionMarkers(t *testing.T) {
	env := newTestRuntime(t, &scriptedAnswerer{}, &recordingJournal{})
	typeWord := func(word string) {
		for _, r := range word {
			env.agg.KeyPressed(keylog.Char(r), keylog.Modifiers{})
		}
		env.agg.KeyReleased(keylog.Special(keylog.NameEnter), keylog.Modifiers{})
	}

	typeWord("launchcode7")

	env.rt.ApplyConfig(&config.Config{
		Keystroke: config.KeystrokeConfig{Markers: []string{"launchcode"}},
	})
	typeWord("launchcode7")

	contents := make([]string, 0, 2)
	for _, e := range env.keystrokes.Snapshot() {
		contents = append(contents, e.Content)
	}
	assert.Equal(t, []string{"launchcode7", "launchcode*"}, contents)
}
