package keylog

import "context"

// Handler consumes key events. Modifier state arrives with each event rather
// than through any global tracking.
type Handler interface {
	KeyPressed(key Key, mods Modifiers)
	KeyReleased(key Key, mods Modifiers)
}

// EventSource feeds a Handler with press/release events. Start returns
// immediately; delivery happens on the source's own goroutine until the
// context is canceled or Stop is called. Stop blocks until delivery has
// ceased.
type EventSource interface {
	Start(ctx context.Context, h Handler) error
	Stop() error
}

// NopSource delivers nothing. It stands in when no system-wide hook
// integration is configured; the rest of the pipeline runs unchanged.
type NopSource struct{}

var _ EventSource = NopSource{}

func (NopSource) Start(ctx context.Context, h Handler) error { return nil }
func (NopSource) Stop() error                                { return nil }
