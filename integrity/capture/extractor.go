package capture

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Extractor runs text recognition over a captured frame and normalizes the
// output.
type Extractor struct {
	rec TextRecognizer
	log zerolog.Logger
}

// NewExtractor constructs an Extractor around a recognizer.
func NewExtractor(rec TextRecognizer, logger zerolog.Logger) *Extractor {
	return &Extractor{
		rec: rec,
		log: logger.With().Str("component", "text-extractor").Logger(),
	}
}

// Extract returns the normalized text of image. An absent frame or a
// recognizer failure yields an empty string; the failure is logged, never
// raised, so the capture loop keeps running.
func (e *Extractor) Extract(ctx context.Context, image []byte) string {
	if len(image) == 0 {
		return ""
	}
	raw, err := e.rec.Recognize(ctx, image)
	if err != nil {
		e.log.Warn().Err(err).Msg("text recognition failed, dropping frame")
		return ""
	}
	return Normalize(raw)
}

// Normalize collapses whitespace runs (spaces, tabs, newlines) into single
// spaces and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
