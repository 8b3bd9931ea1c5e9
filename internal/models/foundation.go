// internal/models/foundation.go
package models

import (
	"time"
)

// DetailSource records where a foundation field's value came from.
type DetailSource string

const (
	// SourceUser marks content entered directly by the user.
	SourceUser DetailSource = "USER"
	// SourceGenerated marks content filled in by the model.
	SourceGenerated DetailSource = "GENERATED"
)

// Foundation is the structured world-and-cast description a story is built
// on. Users fill it via forms or the voice-guided flow; missing narrative
// detail is generated on request.
type Foundation struct {
	StoryID    string             `json:"story_id"`
	World      WorldFoundation    `json:"world"`
	Characters []CharacterProfile `json:"characters"`
	Genre      GenreFoundation    `json:"genre"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// WorldFoundation describes the setting.
type WorldFoundation struct {
	Name        string       `json:"name"`
	Setting     string       `json:"setting"`
	Era         string       `json:"era,omitempty"`
	Rules       string       `json:"rules,omitempty"`
	Atmosphere  string       `json:"atmosphere,omitempty"`
	Description string       `json:"description,omitempty"`
	Source      DetailSource `json:"source"`
}

// CharacterProfile describes one cast member. Traits feed the character
// dialogue prompts verbatim.
type CharacterProfile struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Role      string       `json:"role,omitempty"`
	Traits    []string     `json:"traits,omitempty"`
	Backstory string       `json:"backstory,omitempty"`
	Voice     string       `json:"voice,omitempty"`
	Source    DetailSource `json:"source"`
}

// GenreFoundation describes tone and style conventions.
type GenreFoundation struct {
	Name        string       `json:"name"`
	Tone        string       `json:"tone,omitempty"`
	Conventions string       `json:"conventions,omitempty"`
	Source      DetailSource `json:"source"`
}
