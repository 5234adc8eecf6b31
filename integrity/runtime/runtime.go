// Package runtime assembles the capture pipeline, identity stack and
// backend client into one running assistant and owns their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/integritydesk/integrity-assistant/integrity/buffer"
	"github.com/integritydesk/integrity-assistant/integrity/capture"
	"github.com/integritydesk/integrity-assistant/integrity/client"
	"github.com/integritydesk/integrity-assistant/integrity/config"
	"github.com/integritydesk/integrity-assistant/integrity/keylog"
	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
	"github.com/integritydesk/integrity-assistant/integrity/state"
)

// Answerer submits an assembled context snapshot and returns the backend's
// reply. client.Client is the production implementation.
type Answerer interface {
	Submit(ctx context.Context, snap snapshot.Snapshot) (client.Answer, error)
}

// Journal persists the outcome of each submission attempt.
type Journal interface {
	Record(ctx context.Context, rec state.QueryRecord) error
}

// Options configure a Runtime. The two buffers, Sampler, Source, Aggregator,
// Snapshotter and Answerer are required; Journal defaults to a no-op and
// Clock to time.Now.
type Options struct {
	Screens     *buffer.Ring[snapshot.ScreenTextEntry]
	Keystrokes  *buffer.Ring[snapshot.KeystrokeEntry]
	Sampler     *capture.Sampler
	Metrics     *capture.Metrics
	Source      keylog.EventSource
	Aggregator  *keylog.Aggregator
	Snapshotter *snapshot.Snapshotter
	Answerer    Answerer
	Journal     Journal
	Clock       func() time.Time
	Logger      zerolog.Logger
}

// Runtime owns the rolling buffers and the goroutines that feed them, and
// answers user queries against the backend. Start and Stop bracket the
// capture goroutines; SubmitQuery works before Start too, over whatever the
// buffers currently hold.
type Runtime struct {
	screens     *buffer.Ring[snapshot.ScreenTextEntry]
	keystrokes  *buffer.Ring[snapshot.KeystrokeEntry]
	sampler     *capture.Sampler
	metrics     *capture.Metrics
	source      keylog.EventSource
	agg         *keylog.Aggregator
	snapshotter *snapshot.Snapshotter
	answerer    Answerer
	journal     Journal
	clock       func() time.Time
	log         zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

// NewRuntime wires a Runtime from opts.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Screens == nil || opts.Keystrokes == nil {
		return nil, errors.New("runtime: both rolling buffers are required")
	}
	if opts.Sampler == nil {
		return nil, errors.New("runtime: sampler is required")
	}
	if opts.Source == nil {
		return nil, errors.New("runtime: keystroke source is required")
	}
	if opts.Aggregator == nil {
		return nil, errors.New("runtime: aggregator is required")
	}
	if opts.Snapshotter == nil {
		return nil, errors.New("runtime: snapshotter is required")
	}
	if opts.Answerer == nil {
		return nil, errors.New("runtime: answerer is required")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = capture.NewMetrics()
	}
	journal := opts.Journal
	if journal == nil {
		journal = noOpJournal{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Runtime{
		screens:     opts.Screens,
		keystrokes:  opts.Keystrokes,
		sampler:     opts.Sampler,
		metrics:     metrics,
		source:      opts.Source,
		agg:         opts.Aggregator,
		snapshotter: opts.Snapshotter,
		answerer:    opts.Answerer,
		journal:     journal,
		clock:       clock,
		log:         opts.Logger.With().Str("component", "runtime").Logger(),
	}, nil
}

// Start launches the screen sampler and the keystroke source. It returns
// once both are running; capture continues until Stop or ctx cancellation.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("runtime already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	wg := conc.NewWaitGroup()
	wg.Go(func() {
		if err := r.sampler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Msg("screen sampler exited")
		}
	})

	if err := r.source.Start(runCtx, r.agg); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("start keystroke source: %w", err)
	}

	r.cancel = cancel
	r.wg = wg
	r.log.Info().Msg("assistant runtime started")
	return nil
}

// SubmitQuery freezes the current buffer contents into a snapshot, submits
// it and returns the backend's reply. Every submission attempt that leaves
// the process is journaled, successful or not.
func (r *Runtime) SubmitQuery(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", client.ErrEmptyQuery
	}

	snap := r.snapshotter.Take(ctx, query)
	started := r.clock()
	answer, err := r.answerer.Submit(ctx, snap)
	r.journalSubmission(ctx, snap, answer, r.clock().Sub(started), err)
	if err != nil {
		return "", err
	}
	return answer.Response, nil
}

// journalSubmission records the outcome even when the query context has
// already expired.
func (r *Runtime) journalSubmission(ctx context.Context, snap snapshot.Snapshot, answer client.Answer, latency time.Duration, submitErr error) {
	rec := state.QueryRecord{
		ID:               snap.ID,
		SubmittedAt:      snap.Metadata.Timestamp,
		Status:           submitStatus(submitErr),
		HTTPStatus:       answer.Status,
		LatencyMS:        latency.Milliseconds(),
		QueryChars:       utf8.RuneCountInString(snap.UserQuery),
		ScreenEntries:    len(snap.ScreenTexts),
		KeystrokeEntries: len(snap.RecentKeystrokes),
	}
	if err := r.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warn().Err(err).Str("query_id", snap.ID).Msg("journal write failed")
	}
}

func submitStatus(err error) string {
	switch {
	case err == nil:
		return state.StatusOK
	case errors.Is(err, client.ErrSessionExpired):
		return state.StatusDenied
	case errors.Is(err, client.ErrQuotaExceeded):
		return state.StatusThrottled
	default:
		return state.StatusFailed
	}
}

// Stop halts capture and flushes any keystrokes still pending. Stopping a
// runtime that never started is a no-op.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	cancel, wg := r.cancel, r.wg
	r.cancel, r.wg = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	err := r.source.Stop()
	r.agg.Stop()
	wg.Wait()

	summary := r.metrics.Summary()
	r.log.Info().
		Int64("cycles", summary.Cycles).
		Int64("entries", summary.Entries).
		Int64("empty_frames", summary.EmptyFrames).
		Int64("capture_errors", summary.CaptureErrors).
		Msg("assistant runtime stopped")

	if err != nil {
		return fmt.Errorf("stop keystroke source: %w", err)
	}
	return nil
}

// ApplyConfig applies the settings that can change while the assistant
// runs. Only the redaction marker set takes effect without a restart.
func (r *Runtime) ApplyConfig(cfg *config.Config) {
	r.agg.SetClassifier(keylog.NewClassifier(cfg.Keystroke.Markers))
	r.log.Info().Strs("markers", cfg.Keystroke.Markers).Msg("redaction markers reloaded")
}

// Metrics reports the capture counters accumulated so far.
func (r *Runtime) Metrics() capture.MetricsSummary {
	return r.metrics.Summary()
}

// BufferedCounts reports how many entries each rolling window holds.
func (r *Runtime) BufferedCounts() (screens, keystrokes int) {
	return r.screens.Len(), r.keystrokes.Len()
}
