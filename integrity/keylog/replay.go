package keylog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// replayEvent is one line of a recorded key script.
type replayEvent struct {
	AtMS  int64  `json:"at_ms"`
	Kind  string `json:"kind"` // "press" or "release"
	Char  string `json:"char,omitempty"`
	Name  string `json:"name,omitempty"`
	Shift bool   `json:"shift,omitempty"`
}

func (e replayEvent) key() Key {
	if e.Name != "" {
		return Special(e.Name)
	}
	for _, r := range e.Char {
		return Char(r)
	}
	return Key{}
}

// ReplaySource plays a recorded JSONL key script against a handler on its
// own goroutine, honoring the script's relative timing. It powers the demo
// mode and end-to-end tests; a line's key fields may be empty, in which case
// the handler sees a malformed event and skips it.
type ReplaySource struct {
	events []replayEvent
	sleep  func(ctx context.Context, d time.Duration) error
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ EventSource = (*ReplaySource)(nil)

// NewReplaySource parses a JSONL script. Blank lines and lines starting with
// '#' are ignored; an unknown kind fails the whole load.
func NewReplaySource(r io.Reader, logger zerolog.Logger) (*ReplaySource, error) {
	var events []replayEvent
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var ev replayEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("keylog: replay line %d: %w", line, err)
		}
		if ev.Kind != "press" && ev.Kind != "release" {
			return nil, fmt.Errorf("keylog: replay line %d: unknown kind %q", line, ev.Kind)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("keylog: read replay script: %w", err)
	}
	return &ReplaySource{
		events: events,
		sleep:  sleepCtx,
		log:    logger.With().Str("component", "key-replay").Logger(),
	}, nil
}

// Start begins playback. It returns an error if playback already started.
func (s *ReplaySource) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("keylog: replay already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, h)
	return nil
}

func (s *ReplaySource) run(ctx context.Context, h Handler) {
	defer close(s.done)
	var elapsed int64
	for _, ev := range s.events {
		if err := s.sleep(ctx, time.Duration(ev.AtMS-elapsed)*time.Millisecond); err != nil {
			return
		}
		elapsed = ev.AtMS
		mods := Modifiers{Shift: ev.Shift}
		switch ev.Kind {
		case "press":
			h.KeyPressed(ev.key(), mods)
		case "release":
			h.KeyReleased(ev.key(), mods)
		}
	}
	s.log.Debug().Int("events", len(s.events)).Msg("replay script finished")
}

// Stop halts playback and waits for the delivery goroutine to exit.
func (s *ReplaySource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
