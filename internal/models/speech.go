// internal/models/speech.go
package models

import (
	"time"
)

// TranscriptResult is one recognition result delivered to a speech session.
// Interim results may still change; a final result is committed text.
type TranscriptResult struct {
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}
