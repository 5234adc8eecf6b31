package client

import (
	"github.com/integritydesk/integrity-assistant/integrity/snapshot"
)

// timeLayout renders timestamps as ISO-8601 UTC with second precision.
// Producers truncate to the second, so the literal Z suffix is exact.
const timeLayout = "2006-01-02T15:04:05Z"

type screenTextDTO struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

type keystrokeDTO struct {
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

type metadataDTO struct {
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

type contextDTO struct {
	ScreenTexts      []screenTextDTO `json:"screen_texts"`
	RecentKeystrokes []keystrokeDTO  `json:"recent_keystrokes"`
	Metadata         metadataDTO     `json:"metadata"`
}

type queryPayload struct {
	UserQuery string     `json:"user_query"`
	Context   contextDTO `json:"context"`
}

// buildPayload renders snap in the backend's wire shape. Empty buffers
// become empty arrays, never null.
func buildPayload(snap snapshot.Snapshot) queryPayload {
	screens := make([]screenTextDTO, 0, len(snap.ScreenTexts))
	for _, e := range snap.ScreenTexts {
		screens = append(screens, screenTextDTO{
			Timestamp: e.Timestamp.UTC().Format(timeLayout),
			Text:      e.Text,
		})
	}

	keystrokes := make([]keystrokeDTO, 0, len(snap.RecentKeystrokes))
	for _, e := range snap.RecentKeystrokes {
		keystrokes = append(keystrokes, keystrokeDTO{
			Timestamp: e.Timestamp.UTC().Format(timeLayout),
			Content:   e.Content,
		})
	}

	return queryPayload{
		UserQuery: snap.UserQuery,
		Context: contextDTO{
			ScreenTexts:      screens,
			RecentKeystrokes: keystrokes,
			Metadata: metadataDTO{
				UserID:    snap.Metadata.UserID,
				Timestamp: snap.Metadata.Timestamp.UTC().Format(timeLayout),
			},
		},
	}
}
