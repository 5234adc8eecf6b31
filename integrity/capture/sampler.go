package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/integritydesk/integrity-assistant/integrity/buffer"
	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
)

const (
	// DefaultInterval is the pause between successful sampling cycles.
	DefaultInterval = 500 * time.Millisecond

	// DefaultErrorBackoff is the pause after a failed sampling cycle.
	DefaultErrorBackoff = time.Second
)

// Sleeper pauses for the given duration or until the context is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options configures a Sampler.
type Options struct {
	// Source grabs raw screen images. Required.
	Source ScreenSource

	// Extractor turns images into normalized text. Required.
	Extractor *Extractor

	// Out receives one entry per cycle that yielded text. Required.
	Out *buffer.Ring[snapshot.ScreenTextEntry]

	// Metrics records per-cycle outcomes. Optional.
	Metrics *Metrics

	// Interval between cycle starts. Defaults to DefaultInterval.
	Interval time.Duration

	// ErrorBackoff is the pause after a capture failure.
	// Defaults to DefaultErrorBackoff.
	ErrorBackoff time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Sleeper pauses between cycles. Defaults to a timer-backed sleep.
	Sleeper Sleeper

	Logger zerolog.Logger
}

// Sampler periodically captures the screen, extracts its text and pushes
// the result into the screen text ring.
type Sampler struct {
	source    ScreenSource
	extractor *Extractor
	out       *buffer.Ring[snapshot.ScreenTextEntry]
	metrics   *Metrics

	interval time.Duration
	backoff  time.Duration
	clock    func() time.Time
	sleep    Sleeper
	log      zerolog.Logger
}

// NewSampler builds a Sampler from opts.
func NewSampler(opts Options) (*Sampler, error) {
	if opts.Source == nil {
		return nil, errors.New("capture: sampler requires a screen source")
	}
	if opts.Extractor == nil {
		return nil, errors.New("capture: sampler requires an extractor")
	}
	if opts.Out == nil {
		return nil, errors.New("capture: sampler requires an output ring")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleeper == nil {
		opts.Sleeper = sleepCtx
	}

	return &Sampler{
		source:    opts.Source,
		extractor: opts.Extractor,
		out:       opts.Out,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		backoff:   opts.ErrorBackoff,
		clock:     opts.Clock,
		sleep:     opts.Sleeper,
		log:       opts.Logger.With().Str("component", "sampler").Logger(),
	}, nil
}

// Run samples the screen at a fixed rate until ctx is cancelled. A failed
// capture backs off for the configured duration instead of the regular
// interval; recognizer failures and empty frames keep the regular cadence.
func (s *Sampler) Run(ctx context.Context) error {
	s.log.Info().
		Dur("interval", s.interval).
		Dur("error_backoff", s.backoff).
		Msg("screen sampling started")

	for {
		if err := ctx.Err(); err != nil {
			s.log.Info().Msg("screen sampling stopped")
			return err
		}

		start := s.clock()
		err := s.cycle(ctx, start)
		elapsed := s.clock().Sub(start)

		pause := s.interval - elapsed
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info().Msg("screen sampling stopped")
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("capture cycle failed, backing off")
			pause = s.backoff
		}

		if pause > 0 {
			if err := s.sleep(ctx, pause); err != nil {
				s.log.Info().Msg("screen sampling stopped")
				return err
			}
		}
	}
}

func (s *Sampler) cycle(ctx context.Context, start time.Time) error {
	image, err := s.source.Capture(ctx)
	duration := s.clock().Sub(start)
	if err != nil {
		s.record(duration, 0, err)
		return fmt.Errorf("capture screen: %w", err)
	}

	text := s.extractor.Extract(ctx, image)
	duration = s.clock().Sub(start)
	s.record(duration, len(text), nil)
	if text == "" {
		return nil
	}

	s.out.Push(snapshot.ScreenTextEntry{
		Timestamp: start.UTC().Truncate(time.Second),
		Text:      text,
	})
	return nil
}

func (s *Sampler) record(d time.Duration, textLen int, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCycle(d, textLen, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
