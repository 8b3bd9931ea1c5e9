// internal/services/ai_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/utils"
)

// Completer is the single model operation AIService needs. Satisfied by
// every llm.Provider; narrowed here so tests can substitute a fake.
type Completer interface {
	CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// The chat surface always gets prose, never an error payload.
const characterReplyFallback = "I'm sorry, I've lost my train of thought. Could you ask me that again?"

// How much chapter tail feeds a prompt. Model context is the constraint,
// not storage.
const excerptRunes = 2400

// AIService turns story state into model prompts and parses the structured
// replies. Suggestion and chat calls degrade to documented fallbacks instead
// of failing; detail generation surfaces errors so the caller can retry.
type AIService struct {
	mu        sync.RWMutex
	completer Completer
	model     string

	foundations *FoundationService
	stories     *StoryService
	timeout     time.Duration
	metrics     *metrics.Collector
	log         zerolog.Logger
}

func NewAIService(completer Completer, model string, foundations *FoundationService, stories *StoryService, timeout time.Duration) *AIService {
	return &AIService{
		completer:   completer,
		model:       model,
		foundations: foundations,
		stories:     stories,
		timeout:     timeout,
		metrics:     metrics.Get(),
		log:         logger.For("ai"),
	}
}

// SetProvider swaps the model backend at runtime. In-flight calls finish
// on the old one.
func (s *AIService) SetProvider(completer Completer, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completer = completer
	s.model = model
}

// Ready reports whether a model backend is configured.
func (s *AIService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completer != nil
}

// GenerateSuggestions produces writing suggestions for the chapter. It
// never fails: any model or parse error yields the empty set.
func (s *AIService) GenerateSuggestions(ctx context.Context, storyID, chapterID string) *models.SuggestionSet {
	prompt, err := s.suggestionPrompt(storyID, chapterID)
	if err != nil {
		s.log.Warn().Err(err).Str("chapter", chapterID).Msg("suggestion prompt build failed")
		s.metrics.Increment(metrics.AIFallbacks)
		return models.EmptySuggestionSet()
	}

	var set models.SuggestionSet
	if err := s.completeJSON(ctx, suggestionSystemPrompt, prompt, &set); err != nil {
		s.log.Warn().Err(err).Str("chapter", chapterID).Msg("suggestion generation failed")
		s.metrics.Increment(metrics.AIFallbacks)
		return models.EmptySuggestionSet()
	}

	if set.PlotSuggestions == nil {
		set.PlotSuggestions = []string{}
	}
	if set.CharacterInteractions == nil {
		set.CharacterInteractions = []string{}
	}
	if set.StyleSuggestions == nil {
		set.StyleSuggestions = []string{}
	}
	return &set
}

// CharacterReply answers a chat message in a cast member's voice. Falls
// back to an apology line when the model call fails.
func (s *AIService) CharacterReply(ctx context.Context, storyID, characterID, message string) string {
	character, err := s.foundations.GetCharacter(storyID, characterID)
	if err != nil {
		s.log.Warn().Err(err).Str("character", characterID).Msg("character lookup failed")
		s.metrics.Increment(metrics.AIFallbacks)
		return characterReplyFallback
	}

	system := characterSystemPrompt(character)
	resp, err := s.complete(ctx, system, message)
	if err != nil || strings.TrimSpace(resp) == "" {
		s.log.Warn().Err(err).Str("character", characterID).Msg("character reply failed")
		s.metrics.Increment(metrics.AIFallbacks)
		return characterReplyFallback
	}
	return strings.TrimSpace(resp)
}

// GenerateWorldDetails fills in missing narrative detail for the world
// section.
func (s *AIService) GenerateWorldDetails(ctx context.Context, storyID string) (*models.WorldDetails, error) {
	foundation, err := s.foundations.GetFoundation(storyID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"World name: %s\nKnown setting: %s\nGenre: %s\n\nInvent the missing detail for this story world.",
		orUnspecified(foundation.World.Name),
		orUnspecified(foundation.World.Setting),
		orUnspecified(foundation.Genre.Name),
	)

	var details models.WorldDetails
	if err := s.completeJSON(ctx, worldDetailSystemPrompt, prompt, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// GenerateCharacterDetails fills in missing detail for one cast member.
func (s *AIService) GenerateCharacterDetails(ctx context.Context, storyID, characterID string) (*models.CharacterDetails, error) {
	character, err := s.foundations.GetCharacter(storyID, characterID)
	if err != nil {
		return nil, err
	}
	foundation, err := s.foundations.GetFoundation(storyID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"Character: %s\nRole: %s\nKnown traits: %s\nWorld: %s\n\nInvent the missing detail for this character.",
		character.Name,
		orUnspecified(character.Role),
		orUnspecified(strings.Join(character.Traits, ", ")),
		orUnspecified(foundation.World.Setting),
	)

	var details models.CharacterDetails
	if err := s.completeJSON(ctx, characterDetailSystemPrompt, prompt, &details); err != nil {
		return nil, err
	}
	if details.Traits == nil {
		details.Traits = []string{}
	}
	return &details, nil
}

// GenerateGenreDetails fills in tone and conventions for the genre
// section.
func (s *AIService) GenerateGenreDetails(ctx context.Context, storyID string) (*models.GenreDetails, error) {
	foundation, err := s.foundations.GetFoundation(storyID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"Genre: %s\nWorld: %s\n\nDescribe the tone and the conventions this story should honor.",
		orUnspecified(foundation.Genre.Name),
		orUnspecified(foundation.World.Setting),
	)

	var details models.GenreDetails
	if err := s.completeJSON(ctx, genreDetailSystemPrompt, prompt, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// ContinueStory proposes the next passage for a chapter, optionally steered
// by a user-supplied direction.
func (s *AIService) ContinueStory(ctx context.Context, storyID, chapterID, direction string) (*models.Continuation, error) {
	prompt, err := s.continuationPrompt(storyID, chapterID, direction)
	if err != nil {
		return nil, err
	}

	var continuation models.Continuation
	if err := s.completeJSON(ctx, continuationSystemPrompt, prompt, &continuation); err != nil {
		return nil, err
	}
	if strings.TrimSpace(continuation.Text) == "" {
		return nil, apperrors.NewProcessingError("model returned an empty continuation", nil)
	}
	return &continuation, nil
}

// ---- prompts ----

const suggestionSystemPrompt = `You are a writing assistant for a fiction author.
Respond with a single JSON object and nothing else, in this exact shape:
{"plotSuggestions": ["..."], "characterInteractions": ["..."], "styleSuggestions": ["..."]}
Each array holds two or three short, concrete suggestions. No markdown, no commentary.`

const worldDetailSystemPrompt = `You invent story-world detail for a fiction author.
Respond with a single JSON object and nothing else:
{"setting": "...", "era": "...", "rules": "...", "atmosphere": "..."}
Keep each field to one or two sentences. No markdown, no commentary.`

const characterDetailSystemPrompt = `You invent character detail for a fiction author.
Respond with a single JSON object and nothing else:
{"traits": ["..."], "backstory": "...", "voice": "..."}
Three to five traits, a short backstory, one sentence on how they speak. No markdown.`

const genreDetailSystemPrompt = `You describe genre conventions for a fiction author.
Respond with a single JSON object and nothing else:
{"tone": "...", "conventions": "..."}
No markdown, no commentary.`

const continuationSystemPrompt = `You continue a story in the author's established voice.
Respond with a single JSON object and nothing else:
{"text": "the next passage, two or three paragraphs", "choices": ["a possible direction", "another"]}
Match the tone of the excerpt. No markdown, no commentary.`

func characterSystemPrompt(character *models.CharacterProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a character in a story. Stay in character; answer in first person.\n", character.Name)
	if character.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", character.Role)
	}
	if len(character.Traits) > 0 {
		fmt.Fprintf(&b, "Traits: %s\n", strings.Join(character.Traits, ", "))
	}
	if character.Backstory != "" {
		fmt.Fprintf(&b, "Backstory: %s\n", character.Backstory)
	}
	if character.Voice != "" {
		fmt.Fprintf(&b, "Way of speaking: %s\n", character.Voice)
	}
	b.WriteString("Keep replies under four sentences.")
	return b.String()
}

func (s *AIService) suggestionPrompt(storyID, chapterID string) (string, error) {
	foundation, err := s.foundations.GetFoundation(storyID)
	if err != nil {
		return "", err
	}
	content, err := s.stories.GetChapterContent(chapterID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeFoundationContext(&b, foundation)
	fmt.Fprintf(&b, "\nCurrent chapter excerpt:\n%s\n", tailExcerpt(content))
	b.WriteString("\nSuggest how the author could develop the story from here.")
	return b.String(), nil
}

func (s *AIService) continuationPrompt(storyID, chapterID, direction string) (string, error) {
	foundation, err := s.foundations.GetFoundation(storyID)
	if err != nil {
		return "", err
	}
	content, err := s.stories.GetChapterContent(chapterID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeFoundationContext(&b, foundation)
	fmt.Fprintf(&b, "\nStory so far (excerpt):\n%s\n", tailExcerpt(content))
	if strings.TrimSpace(direction) != "" {
		fmt.Fprintf(&b, "\nThe author wants the story to go in this direction: %s\n", direction)
	}
	b.WriteString("\nWrite the next passage.")
	return b.String(), nil
}

func writeFoundationContext(b *strings.Builder, foundation *models.Foundation) {
	if foundation.World.Name != "" || foundation.World.Setting != "" {
		fmt.Fprintf(b, "World: %s. %s\n", foundation.World.Name, foundation.World.Setting)
	}
	if foundation.Genre.Name != "" {
		fmt.Fprintf(b, "Genre: %s", foundation.Genre.Name)
		if foundation.Genre.Tone != "" {
			fmt.Fprintf(b, " (tone: %s)", foundation.Genre.Tone)
		}
		b.WriteString("\n")
	}
	for _, character := range foundation.Characters {
		fmt.Fprintf(b, "Character: %s", character.Name)
		if len(character.Traits) > 0 {
			fmt.Fprintf(b, " (%s)", strings.Join(character.Traits, ", "))
		}
		b.WriteString("\n")
	}
}

// tailExcerpt keeps the end of the chapter, where the model needs context
// for what comes next.
func tailExcerpt(markup string) string {
	text := utils.StripMarkup(markup)
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return "..." + string(runes[len(runes)-excerptRunes:])
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unspecified"
	}
	return s
}

// ---- model plumbing ----

func (s *AIService) complete(ctx context.Context, system, prompt string) (string, error) {
	s.mu.RLock()
	completer := s.completer
	model := s.model
	s.mu.RUnlock()

	if completer == nil {
		return "", apperrors.NewProcessingError("no model provider configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.metrics.Increment(metrics.AICalls)
	resp, err := completer.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: system,
		Model:        model,
		Temperature:  0.8,
		MaxTokens:    1200,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.NewTimeoutError("model call timed out", err)
		}
		return "", apperrors.NewProcessingError("model call failed", err)
	}
	return resp.Text, nil
}

func (s *AIService) completeJSON(ctx context.Context, system, prompt string, v interface{}) error {
	raw, err := s.complete(ctx, system, prompt)
	if err != nil {
		return err
	}

	clean := utils.CleanModelJSON(raw)
	if clean == "" {
		return apperrors.NewProcessingError("model reply contained no JSON", nil)
	}
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		return apperrors.NewProcessingError("model reply was not valid JSON", err)
	}
	return nil
}
