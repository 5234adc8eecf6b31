package adapters

import (
	"context"

	"github.com/integritydesk/integrity-assistant/integrity/capture"
)

// NopScreenSource yields no frames. It stands in when no screen grabber is
// installed so the assistant keeps running on keystroke context alone.
type NopScreenSource struct{}

var _ capture.ScreenSource = NopScreenSource{}

func (NopScreenSource) Capture(ctx context.Context) ([]byte, error) { return nil, nil }

// NopRecognizer recognizes nothing.
type NopRecognizer struct{}

var _ capture.TextRecognizer = NopRecognizer{}

func (NopRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	return "", nil
}
