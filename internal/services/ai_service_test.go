// internal/services/ai_service_test.go
package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/storage"
)

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.CompletionRequest
}

func (f *fakeCompleter) CompleteText(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.reply}, nil
}

func (f *fakeCompleter) lastRequest() llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type aiFixture struct {
	svc       *AIService
	completer *fakeCompleter
	storyID   string
	chapterID string
}

func newAIFixture(t *testing.T) *aiFixture {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	stories, err := NewStoryService(fs)
	require.NoError(t, err)
	foundations := NewFoundationService(fs)

	story, err := stories.CreateStory("Signal Fires", "", "fantasy")
	require.NoError(t, err)
	chapter, err := stories.AddChapter(story.ID, "One")
	require.NoError(t, err)
	_, err = stories.CreateVersion(context.Background(), chapter.ID, "<p>The beacons were cold for the third night.</p>", 8, models.VersionManual)
	require.NoError(t, err)

	completer := &fakeCompleter{}
	svc := NewAIService(completer, "test-model", foundations, stories, 5*time.Second)

	return &aiFixture{svc: svc, completer: completer, storyID: story.ID, chapterID: chapter.ID}
}

func TestGenerateSuggestionsParsesModelJSON(t *testing.T) {
	fx := newAIFixture(t)
	fx.completer.reply = "```json\n" +
		`{"plotSuggestions": ["light the beacons"], "characterInteractions": ["the watcher confronts the captain"], "styleSuggestions": ["shorter sentences"]}` +
		"\n```"

	set := fx.svc.GenerateSuggestions(context.Background(), fx.storyID, fx.chapterID)

	assert.Equal(t, []string{"light the beacons"}, set.PlotSuggestions)
	assert.Equal(t, []string{"the watcher confronts the captain"}, set.CharacterInteractions)
	assert.Equal(t, []string{"shorter sentences"}, set.StyleSuggestions)

	req := fx.completer.lastRequest()
	assert.Contains(t, req.Prompt, "The beacons were cold")
	assert.Equal(t, "test-model", req.Model)
}

func TestGenerateSuggestionsFallsBackToEmptySetOnModelError(t *testing.T) {
	fx := newAIFixture(t)
	fx.completer.err = errors.New("upstream unavailable")

	set := fx.svc.GenerateSuggestions(context.Background(), fx.storyID, fx.chapterID)

	require.NotNil(t, set)
	assert.Empty(t, set.PlotSuggestions)
	assert.Empty(t, set.CharacterInteractions)
	assert.Empty(t, set.StyleSuggestions)
	assert.NotNil(t, set.PlotSuggestions)
	assert.NotNil(t, set.CharacterInteractions)
	assert.NotNil(t, set.StyleSuggestions)
}

func TestGenerateSuggestionsFallsBackOnUnparseableReply(t *testing.T) {
	fx := newAIFixture(t)
	fx.completer.reply = "I'd rather talk about the weather."

	set := fx.svc.GenerateSuggestions(context.Background(), fx.storyID, fx.chapterID)

	require.NotNil(t, set)
	assert.Empty(t, set.PlotSuggestions)
}

func TestCharacterReplyUsesTraitsInPrompt(t *testing.T) {
	fx := newAIFixture(t)

	foundations := fx.svc.foundations
	character, err := foundations.UpsertCharacter(fx.storyID, "", CharacterInput{
		Name:   "Maren",
		Role:   "beacon watcher",
		Traits: []string{"stubborn", "loyal"},
	})
	require.NoError(t, err)

	fx.completer.reply = "The beacons will burn when they must."
	reply := fx.svc.CharacterReply(context.Background(), fx.storyID, character.ID, "Will you light them?")

	assert.Equal(t, "The beacons will burn when they must.", reply)
	req := fx.completer.lastRequest()
	assert.Contains(t, req.SystemPrompt, "Maren")
	assert.Contains(t, req.SystemPrompt, "stubborn, loyal")
	assert.Equal(t, "Will you light them?", req.Prompt)
}

func TestCharacterReplyFallsBackToApology(t *testing.T) {
	fx := newAIFixture(t)

	character, err := fx.svc.foundations.UpsertCharacter(fx.storyID, "", CharacterInput{Name: "Maren"})
	require.NoError(t, err)

	fx.completer.err = errors.New("upstream unavailable")
	reply := fx.svc.CharacterReply(context.Background(), fx.storyID, character.ID, "Hello?")

	assert.Equal(t, characterReplyFallback, reply)
}

func TestGenerateWorldDetails(t *testing.T) {
	fx := newAIFixture(t)
	fx.completer.reply = `{"setting": "a chain of cliff-top towers", "era": "late iron age", "rules": "fire carries messages", "atmosphere": "windswept"}`

	details, err := fx.svc.GenerateWorldDetails(context.Background(), fx.storyID)
	require.NoError(t, err)
	assert.Equal(t, "a chain of cliff-top towers", details.Setting)
	assert.Equal(t, "windswept", details.Atmosphere)
}

func TestGenerateCharacterDetailsSurfacesModelError(t *testing.T) {
	fx := newAIFixture(t)

	character, err := fx.svc.foundations.UpsertCharacter(fx.storyID, "", CharacterInput{Name: "Maren"})
	require.NoError(t, err)

	fx.completer.err = errors.New("upstream unavailable")
	_, err = fx.svc.GenerateCharacterDetails(context.Background(), fx.storyID, character.ID)
	assert.Error(t, err)
}

func TestContinueStory(t *testing.T) {
	fx := newAIFixture(t)
	fx.completer.reply = `{"text": "On the fourth night, a single spark crossed the strait.", "choices": ["follow the spark", "wake the captain"]}`

	continuation, err := fx.svc.ContinueStory(context.Background(), fx.storyID, fx.chapterID, "raise the stakes")
	require.NoError(t, err)
	assert.Contains(t, continuation.Text, "fourth night")
	assert.Len(t, continuation.Choices, 2)

	req := fx.completer.lastRequest()
	assert.Contains(t, req.Prompt, "raise the stakes")
}

func TestContinueStoryRejectsEmptyText(t *testing.T) {
	fx := newAIFixture(t)
	fx.completer.reply = `{"text": "  ", "choices": []}`

	_, err := fx.svc.ContinueStory(context.Background(), fx.storyID, fx.chapterID, "")
	assert.Error(t, err)
}
