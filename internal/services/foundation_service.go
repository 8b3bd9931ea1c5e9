// internal/services/foundation_service.go
package services

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/storage"
)

// FoundationService persists the world/cast/genre foundation that grounds
// AI prompts. One foundation.json per story.
type FoundationService struct {
	storage  *storage.FileStorage
	validate *validator.Validate

	locks sync.Map // storyID -> *sync.Mutex
	log   zerolog.Logger
}

func NewFoundationService(fs *storage.FileStorage) *FoundationService {
	return &FoundationService{
		storage:  fs,
		validate: validator.New(),
		log:      logger.For("foundation"),
	}
}

// CharacterInput is the payload for adding or updating a cast member.
type CharacterInput struct {
	Name      string   `json:"name" validate:"required,max=120"`
	Role      string   `json:"role" validate:"max=120"`
	Traits    []string `json:"traits" validate:"max=20,dive,max=80"`
	Backstory string   `json:"backstory"`
	Voice     string   `json:"voice"`
}

// GetFoundation loads the story's foundation, returning an empty one when
// nothing has been written yet.
func (s *FoundationService) GetFoundation(storyID string) (*models.Foundation, error) {
	if !s.storyExists(storyID) {
		return nil, apperrors.NewNotFoundError("story not found", nil)
	}

	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	return s.load(storyID)
}

// SaveWorld replaces the world section. User-entered content keeps its
// USER source.
func (s *FoundationService) SaveWorld(storyID string, world models.WorldFoundation) (*models.Foundation, error) {
	if world.Name == "" && world.Setting == "" {
		return nil, apperrors.NewValidationError("world needs at least a name or a setting", nil)
	}

	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	foundation, err := s.load(storyID)
	if err != nil {
		return nil, err
	}

	world.Source = models.SourceUser
	foundation.World = world
	return foundation, s.save(storyID, foundation)
}

// UpsertCharacter adds a cast member, or replaces one when the id matches.
func (s *FoundationService) UpsertCharacter(storyID, characterID string, input CharacterInput) (*models.CharacterProfile, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, apperrors.NewValidationError("invalid character", err)
	}

	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	foundation, err := s.load(storyID)
	if err != nil {
		return nil, err
	}

	profile := models.CharacterProfile{
		ID:        characterID,
		Name:      input.Name,
		Role:      input.Role,
		Traits:    input.Traits,
		Backstory: input.Backstory,
		Voice:     input.Voice,
		Source:    models.SourceUser,
	}

	if profile.ID == "" {
		profile.ID = uuid.NewString()
		foundation.Characters = append(foundation.Characters, profile)
	} else {
		replaced := false
		for i := range foundation.Characters {
			if foundation.Characters[i].ID == profile.ID {
				foundation.Characters[i] = profile
				replaced = true
				break
			}
		}
		if !replaced {
			return nil, apperrors.NewNotFoundError("character not found", nil)
		}
	}

	if err := s.save(storyID, foundation); err != nil {
		return nil, err
	}
	return &profile, nil
}

// RemoveCharacter deletes a cast member.
func (s *FoundationService) RemoveCharacter(storyID, characterID string) error {
	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	foundation, err := s.load(storyID)
	if err != nil {
		return err
	}

	kept := foundation.Characters[:0]
	found := false
	for _, character := range foundation.Characters {
		if character.ID == characterID {
			found = true
			continue
		}
		kept = append(kept, character)
	}
	if !found {
		return apperrors.NewNotFoundError("character not found", nil)
	}

	foundation.Characters = kept
	return s.save(storyID, foundation)
}

// GetCharacter returns one cast member.
func (s *FoundationService) GetCharacter(storyID, characterID string) (*models.CharacterProfile, error) {
	foundation, err := s.GetFoundation(storyID)
	if err != nil {
		return nil, err
	}
	for i := range foundation.Characters {
		if foundation.Characters[i].ID == characterID {
			character := foundation.Characters[i]
			return &character, nil
		}
	}
	return nil, apperrors.NewNotFoundError("character not found", nil)
}

// SaveGenre replaces the genre section.
func (s *FoundationService) SaveGenre(storyID string, genre models.GenreFoundation) (*models.Foundation, error) {
	if genre.Name == "" {
		return nil, apperrors.NewValidationError("genre name is required", nil)
	}

	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	foundation, err := s.load(storyID)
	if err != nil {
		return nil, err
	}

	genre.Source = models.SourceUser
	foundation.Genre = genre
	return foundation, s.save(storyID, foundation)
}

// ApplyWorldDetails fills in generated world detail. Only empty fields are
// touched, so user-entered text survives a fill-in pass.
func (s *FoundationService) ApplyWorldDetails(storyID string, details models.WorldDetails) (*models.Foundation, error) {
	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	foundation, err := s.load(storyID)
	if err != nil {
		return nil, err
	}

	world := &foundation.World
	filled := false
	if world.Setting == "" && details.Setting != "" {
		world.Setting = details.Setting
		filled = true
	}
	if world.Era == "" && details.Era != "" {
		world.Era = details.Era
		filled = true
	}
	if world.Rules == "" && details.Rules != "" {
		world.Rules = details.Rules
		filled = true
	}
	if world.Atmosphere == "" && details.Atmosphere != "" {
		world.Atmosphere = details.Atmosphere
		filled = true
	}
	if filled && world.Name == "" {
		world.Source = models.SourceGenerated
	}

	return foundation, s.save(storyID, foundation)
}

// ApplyCharacterDetails fills in generated detail for one cast member,
// keeping anything the user already wrote.
func (s *FoundationService) ApplyCharacterDetails(storyID, characterID string, details models.CharacterDetails) (*models.CharacterProfile, error) {
	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	foundation, err := s.load(storyID)
	if err != nil {
		return nil, err
	}

	for i := range foundation.Characters {
		if foundation.Characters[i].ID != characterID {
			continue
		}
		character := &foundation.Characters[i]
		if len(character.Traits) == 0 && len(details.Traits) > 0 {
			character.Traits = details.Traits
		}
		if character.Backstory == "" {
			character.Backstory = details.Backstory
		}
		if character.Voice == "" {
			character.Voice = details.Voice
		}
		if err := s.save(storyID, foundation); err != nil {
			return nil, err
		}
		result := *character
		return &result, nil
	}
	return nil, apperrors.NewNotFoundError("character not found", nil)
}

// ApplyGenreDetails fills in generated tone and conventions.
func (s *FoundationService) ApplyGenreDetails(storyID string, details models.GenreDetails) (*models.Foundation, error) {
	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	foundation, err := s.load(storyID)
	if err != nil {
		return nil, err
	}

	if foundation.Genre.Tone == "" {
		foundation.Genre.Tone = details.Tone
	}
	if foundation.Genre.Conventions == "" {
		foundation.Genre.Conventions = details.Conventions
	}

	return foundation, s.save(storyID, foundation)
}

// ---- internals ----

func (s *FoundationService) lockFor(storyID string) *sync.Mutex {
	value, _ := s.locks.LoadOrStore(storyID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

func (s *FoundationService) storyExists(storyID string) bool {
	return s.storage.FileExists(filepath.Join(storiesDir, storyID), "story.json")
}

func (s *FoundationService) load(storyID string) (*models.Foundation, error) {
	if !s.storyExists(storyID) {
		return nil, apperrors.NewNotFoundError("story not found", nil)
	}

	dir := filepath.Join(storiesDir, storyID)
	if !s.storage.FileExists(dir, "foundation.json") {
		return &models.Foundation{
			StoryID:    storyID,
			Characters: []models.CharacterProfile{},
		}, nil
	}

	var foundation models.Foundation
	if err := s.storage.LoadJSONFile(dir, "foundation.json", &foundation); err != nil {
		return nil, apperrors.NewProcessingError("load foundation", err)
	}
	if foundation.Characters == nil {
		foundation.Characters = []models.CharacterProfile{}
	}
	return &foundation, nil
}

func (s *FoundationService) save(storyID string, foundation *models.Foundation) error {
	foundation.StoryID = storyID
	foundation.UpdatedAt = time.Now()

	dir := filepath.Join(storiesDir, storyID)
	if err := s.storage.SaveJSONFile(dir, "foundation.json", foundation); err != nil {
		return apperrors.NewProcessingError("save foundation", err)
	}
	return nil
}
