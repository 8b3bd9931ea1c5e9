// internal/models/story.go
package models

import (
	"time"
)

// VersionTag records what triggered a version snapshot.
type VersionTag string

const (
	// VersionAuto marks a debounced background save.
	VersionAuto VersionTag = "auto"
	// VersionManual marks an explicit user checkpoint.
	VersionManual VersionTag = "manual"
	// VersionAIAssisted marks content committed from an accepted AI suggestion.
	VersionAIAssisted VersionTag = "ai-assisted"
)

// Valid reports whether t is one of the known tags.
func (t VersionTag) Valid() bool {
	switch t {
	case VersionAuto, VersionManual, VersionAIAssisted:
		return true
	}
	return false
}

// Story is the top-level writing project.
type Story struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Genre       string    `json:"genre,omitempty"`
	Chapters    []Chapter `json:"chapters"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chapter holds the editable rich-text content of one chapter. Content is
// the markup string produced by the editor; WordCount is computed from the
// markup with tags stripped.
type Chapter struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"story_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Version is an immutable snapshot of chapter content. Versions are
// append-only per chapter; restoring an old version produces a new manual
// version rather than rewriting history.
type Version struct {
	ID        string     `json:"id"`
	ChapterID string     `json:"chapter_id"`
	Content   string     `json:"content"`
	WordCount int        `json:"word_count"`
	Tag       VersionTag `json:"tag"`
	CreatedAt time.Time  `json:"created_at"`
}

// VersionList is the on-disk append-only history of one chapter.
type VersionList struct {
	ChapterID string    `json:"chapter_id"`
	Versions  []Version `json:"versions"`
}
