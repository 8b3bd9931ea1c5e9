// internal/models/ai.go
package models

// SuggestionSet is the structured result of a writing-suggestion request.
// All three slices are always non-nil: a failed model call yields the empty
// set, never a null payload.
type SuggestionSet struct {
	PlotSuggestions       []string `json:"plotSuggestions"`
	CharacterInteractions []string `json:"characterInteractions"`
	StyleSuggestions      []string `json:"styleSuggestions"`
}

// EmptySuggestionSet is the documented fallback for a failed or
// unparseable suggestion call.
func EmptySuggestionSet() *SuggestionSet {
	return &SuggestionSet{
		PlotSuggestions:       []string{},
		CharacterInteractions: []string{},
		StyleSuggestions:      []string{},
	}
}

// Continuation is one proposed way the story could proceed.
type Continuation struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// WorldDetails is the structured output of world detail generation.
type WorldDetails struct {
	Setting    string `json:"setting"`
	Era        string `json:"era"`
	Rules      string `json:"rules"`
	Atmosphere string `json:"atmosphere"`
}

// CharacterDetails is the structured output of character detail generation.
type CharacterDetails struct {
	Traits    []string `json:"traits"`
	Backstory string   `json:"backstory"`
	Voice     string   `json:"voice"`
}

// GenreDetails is the structured output of genre detail generation.
type GenreDetails struct {
	Tone        string `json:"tone"`
	Conventions string `json:"conventions"`
}
