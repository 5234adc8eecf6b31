// Package capture runs the fixed-rate screen sampling loop that feeds the
// rolling screen-text window.
package capture

import (
	"context"
	"errors"
)

// ErrUnavailable marks a screen source with no way to grab the display on
// this host.
var ErrUnavailable = errors.New("capture: screen source unavailable")

// ScreenSource grabs one frame of the display as PNG bytes. An error is a
// transient step failure and empty bytes mean an absent frame; neither is
// fatal to the sampling loop.
type ScreenSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// ScreenSourceFunc adapts a function to the ScreenSource interface.
type ScreenSourceFunc func(ctx context.Context) ([]byte, error)

func (f ScreenSourceFunc) Capture(ctx context.Context) ([]byte, error) { return f(ctx) }

// TextRecognizer turns image bytes into raw text. Failures are absorbed by
// the extractor and treated as empty text.
type TextRecognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// TextRecognizerFunc adapts a function to the TextRecognizer interface.
type TextRecognizerFunc func(ctx context.Context, image []byte) (string, error)

func (f TextRecognizerFunc) Recognize(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}
