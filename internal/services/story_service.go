// internal/services/story_service.go
package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/storage"
)

const storiesDir = "stories"

// StoryIndexer receives story changes for search indexing. Implemented by
// SearchService; optional.
type StoryIndexer interface {
	IndexStory(story *models.Story) error
	RemoveStory(storyID string) error
}

// StoryService persists stories, chapters, and the append-only version
// history. Layout under the data dir:
//
//	stories/<storyID>/story.json          story metadata + chapters
//	stories/<storyID>/versions/<chapterID>.json  version history
//	stories/<storyID>/foundation.json     world/cast foundation
type StoryService struct {
	storage *storage.FileStorage

	storyLocks sync.Map // storyID -> *sync.RWMutex

	mu           sync.RWMutex
	chapterIndex map[string]string // chapterID -> storyID

	indexer StoryIndexer
	metrics *metrics.Collector
	log     zerolog.Logger
}

// NewStoryService creates the service and rebuilds the chapter index from
// disk.
func NewStoryService(fs *storage.FileStorage) (*StoryService, error) {
	s := &StoryService{
		storage:      fs,
		chapterIndex: make(map[string]string),
		metrics:      metrics.Get(),
		log:          logger.For("story"),
	}

	if err := s.rebuildChapterIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetIndexer installs the search indexer. Changes made before this call
// are picked up by the indexer's own rebuild.
func (s *StoryService) SetIndexer(indexer StoryIndexer) {
	s.indexer = indexer
}

// CreateStory creates an empty story.
func (s *StoryService) CreateStory(title, description, genre string) (*models.Story, error) {
	if title == "" {
		return nil, apperrors.NewValidationError("story title is required", nil)
	}

	now := time.Now()
	story := &models.Story{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Genre:       genre,
		Chapters:    []models.Chapter{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.saveStory(story); err != nil {
		return nil, err
	}

	s.log.Info().Str("story", story.ID).Str("title", title).Msg("story created")
	return story, nil
}

// GetStory loads a story with its chapters.
func (s *StoryService) GetStory(storyID string) (*models.Story, error) {
	lock := s.getStoryLock(storyID)
	lock.RLock()
	defer lock.RUnlock()

	return s.loadStory(storyID)
}

// ListStories loads all stories.
func (s *StoryService) ListStories() ([]*models.Story, error) {
	ids, err := s.storage.ListDirs(storiesDir)
	if err != nil {
		if !s.storage.DirExists(storiesDir) {
			return []*models.Story{}, nil
		}
		return nil, apperrors.NewProcessingError("list stories", err)
	}

	stories := make([]*models.Story, 0, len(ids))
	for _, id := range ids {
		story, err := s.GetStory(id)
		if err != nil {
			s.log.Warn().Err(err).Str("story", id).Msg("skipping unreadable story")
			continue
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// StoryUpdate is a partial story update; nil fields are left unchanged.
type StoryUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Genre       *string `json:"genre,omitempty"`
}

// UpdateStory applies a partial update.
func (s *StoryService) UpdateStory(storyID string, update StoryUpdate) (*models.Story, error) {
	lock := s.getStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}

	if update.Title != nil {
		if *update.Title == "" {
			return nil, apperrors.NewValidationError("story title cannot be empty", nil)
		}
		story.Title = *update.Title
	}
	if update.Description != nil {
		story.Description = *update.Description
	}
	if update.Genre != nil {
		story.Genre = *update.Genre
	}
	story.UpdatedAt = time.Now()

	if err := s.saveStory(story); err != nil {
		return nil, err
	}
	return story, nil
}

// DeleteStory removes the story, its versions, and its foundation.
func (s *StoryService) DeleteStory(storyID string) error {
	lock := s.getStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return err
	}

	if err := s.storage.DeleteDir(filepath.Join(storiesDir, storyID)); err != nil {
		return apperrors.NewProcessingError("delete story", err)
	}

	s.mu.Lock()
	for _, chapter := range story.Chapters {
		delete(s.chapterIndex, chapter.ID)
	}
	s.mu.Unlock()

	if s.indexer != nil {
		if err := s.indexer.RemoveStory(storyID); err != nil {
			s.log.Warn().Err(err).Str("story", storyID).Msg("search deindex failed")
		}
	}

	s.log.Info().Str("story", storyID).Msg("story deleted")
	return nil
}

// AddChapter appends a chapter at the end of the story.
func (s *StoryService) AddChapter(storyID, title string) (*models.Chapter, error) {
	if title == "" {
		return nil, apperrors.NewValidationError("chapter title is required", nil)
	}

	lock := s.getStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	chapter := models.Chapter{
		ID:        uuid.NewString(),
		StoryID:   storyID,
		Title:     title,
		Position:  len(story.Chapters) + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	story.Chapters = append(story.Chapters, chapter)
	story.UpdatedAt = now

	if err := s.saveStory(story); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.chapterIndex[chapter.ID] = storyID
	s.mu.Unlock()

	return &chapter, nil
}

// GetChapter returns a chapter by id.
func (s *StoryService) GetChapter(chapterID string) (*models.Chapter, error) {
	storyID, err := s.storyIDForChapter(chapterID)
	if err != nil {
		return nil, err
	}

	lock := s.getStoryLock(storyID)
	lock.RLock()
	defer lock.RUnlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}
	for i := range story.Chapters {
		if story.Chapters[i].ID == chapterID {
			chapter := story.Chapters[i]
			return &chapter, nil
		}
	}
	return nil, apperrors.NewNotFoundError("chapter not found", nil)
}

// GetChapterContent implements ChapterReader for editor sessions.
func (s *StoryService) GetChapterContent(chapterID string) (string, error) {
	chapter, err := s.GetChapter(chapterID)
	if err != nil {
		return "", err
	}
	return chapter.Content, nil
}

// UpdateChapterTitle renames a chapter.
func (s *StoryService) UpdateChapterTitle(chapterID, title string) (*models.Chapter, error) {
	if title == "" {
		return nil, apperrors.NewValidationError("chapter title cannot be empty", nil)
	}

	storyID, err := s.storyIDForChapter(chapterID)
	if err != nil {
		return nil, err
	}

	lock := s.getStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}

	for i := range story.Chapters {
		if story.Chapters[i].ID == chapterID {
			story.Chapters[i].Title = title
			story.Chapters[i].UpdatedAt = time.Now()
			story.UpdatedAt = story.Chapters[i].UpdatedAt
			if err := s.saveStory(story); err != nil {
				return nil, err
			}
			chapter := story.Chapters[i]
			return &chapter, nil
		}
	}
	return nil, apperrors.NewNotFoundError("chapter not found", nil)
}

// ReorderChapters rewrites chapter positions to match orderedIDs, which
// must be a permutation of the story's chapter ids.
func (s *StoryService) ReorderChapters(storyID string, orderedIDs []string) (*models.Story, error) {
	lock := s.getStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}

	if len(orderedIDs) != len(story.Chapters) {
		return nil, apperrors.NewValidationError("chapter order must list every chapter exactly once", nil)
	}

	byID := make(map[string]models.Chapter, len(story.Chapters))
	for _, chapter := range story.Chapters {
		byID[chapter.ID] = chapter
	}

	reordered := make([]models.Chapter, 0, len(orderedIDs))
	now := time.Now()
	for i, id := range orderedIDs {
		chapter, exists := byID[id]
		if !exists {
			return nil, apperrors.NewValidationError(fmt.Sprintf("unknown chapter id %q", id), nil)
		}
		delete(byID, id)
		chapter.Position = i + 1
		reordered = append(reordered, chapter)
	}

	story.Chapters = reordered
	story.UpdatedAt = now
	if err := s.saveStory(story); err != nil {
		return nil, err
	}
	return story, nil
}

// DeleteChapter removes a chapter and its version history, compacting the
// remaining positions.
func (s *StoryService) DeleteChapter(chapterID string) error {
	storyID, err := s.storyIDForChapter(chapterID)
	if err != nil {
		return err
	}

	lock := s.getStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return err
	}

	kept := story.Chapters[:0]
	found := false
	for _, chapter := range story.Chapters {
		if chapter.ID == chapterID {
			found = true
			continue
		}
		chapter.Position = len(kept) + 1
		kept = append(kept, chapter)
	}
	if !found {
		return apperrors.NewNotFoundError("chapter not found", nil)
	}

	story.Chapters = kept
	story.UpdatedAt = time.Now()
	if err := s.saveStory(story); err != nil {
		return err
	}

	versionsDir := filepath.Join(storiesDir, storyID, "versions")
	if s.storage.FileExists(versionsDir, chapterID+".json") {
		if err := s.storage.DeleteFile(versionsDir, chapterID+".json"); err != nil {
			s.log.Warn().Err(err).Str("chapter", chapterID).Msg("version history cleanup failed")
		}
	}

	s.mu.Lock()
	delete(s.chapterIndex, chapterID)
	s.mu.Unlock()

	return nil
}

// CreateVersion appends an immutable snapshot to the chapter's history and
// brings the chapter record up to date with the saved content. This is the
// only write path for chapter content.
func (s *StoryService) CreateVersion(ctx context.Context, chapterID, content string, wordCount int, tag models.VersionTag) (*models.Version, error) {
	if !tag.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown version tag %q", tag), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTimeoutError("save cancelled", err)
	}

	storyID, err := s.storyIDForChapter(chapterID)
	if err != nil {
		return nil, err
	}

	lock := s.getStoryLock(storyID)
	lock.Lock()
	defer lock.Unlock()

	story, err := s.loadStory(storyID)
	if err != nil {
		return nil, err
	}

	versionID, err := gonanoid.New()
	if err != nil {
		return nil, apperrors.NewProcessingError("generate version id", err)
	}

	version := models.Version{
		ID:        versionID,
		ChapterID: chapterID,
		Content:   content,
		WordCount: wordCount,
		Tag:       tag,
		CreatedAt: time.Now(),
	}

	versionsDir := filepath.Join(storiesDir, storyID, "versions")
	history := models.VersionList{ChapterID: chapterID}
	if s.storage.FileExists(versionsDir, chapterID+".json") {
		if err := s.storage.LoadJSONFile(versionsDir, chapterID+".json", &history); err != nil {
			return nil, apperrors.NewProcessingError("load version history", err)
		}
	}
	history.Versions = append(history.Versions, version)

	if err := s.storage.SaveJSONFile(versionsDir, chapterID+".json", history); err != nil {
		return nil, apperrors.NewProcessingError("save version history", err)
	}

	updated := false
	for i := range story.Chapters {
		if story.Chapters[i].ID == chapterID {
			story.Chapters[i].Content = content
			story.Chapters[i].WordCount = wordCount
			story.Chapters[i].UpdatedAt = version.CreatedAt
			updated = true
			break
		}
	}
	if !updated {
		return nil, apperrors.NewNotFoundError("chapter not found", nil)
	}
	story.UpdatedAt = version.CreatedAt

	if err := s.saveStory(story); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		// The write landed; report it rather than pretending it failed.
		s.log.Warn().Str("chapter", chapterID).Msg("save context expired after write")
	}

	return &version, nil
}

// ListVersions returns the chapter's history in chronological order.
func (s *StoryService) ListVersions(chapterID string) ([]models.Version, error) {
	storyID, err := s.storyIDForChapter(chapterID)
	if err != nil {
		return nil, err
	}

	lock := s.getStoryLock(storyID)
	lock.RLock()
	defer lock.RUnlock()

	versionsDir := filepath.Join(storiesDir, storyID, "versions")
	if !s.storage.FileExists(versionsDir, chapterID+".json") {
		return []models.Version{}, nil
	}

	var history models.VersionList
	if err := s.storage.LoadJSONFile(versionsDir, chapterID+".json", &history); err != nil {
		return nil, apperrors.NewProcessingError("load version history", err)
	}
	return history.Versions, nil
}

// GetVersion returns one version by id.
func (s *StoryService) GetVersion(chapterID, versionID string) (*models.Version, error) {
	versions, err := s.ListVersions(chapterID)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].ID == versionID {
			version := versions[i]
			return &version, nil
		}
	}
	return nil, apperrors.NewNotFoundError("version not found", nil)
}

// RestoreVersion writes an old snapshot back as the chapter's content.
// History stays append-only: the restore lands as a new manual version.
func (s *StoryService) RestoreVersion(ctx context.Context, chapterID, versionID string) (*models.Version, error) {
	old, err := s.GetVersion(chapterID, versionID)
	if err != nil {
		return nil, err
	}

	restored, err := s.CreateVersion(ctx, chapterID, old.Content, old.WordCount, models.VersionManual)
	if err != nil {
		return nil, err
	}

	s.metrics.Increment(metrics.VersionsRestored)
	return restored, nil
}

// ---- internals ----

func (s *StoryService) getStoryLock(storyID string) *sync.RWMutex {
	value, _ := s.storyLocks.LoadOrStore(storyID, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (s *StoryService) storyIDForChapter(chapterID string) (string, error) {
	s.mu.RLock()
	storyID, exists := s.chapterIndex[chapterID]
	s.mu.RUnlock()

	if !exists {
		return "", apperrors.NewNotFoundError("chapter not found", nil)
	}
	return storyID, nil
}

func (s *StoryService) loadStory(storyID string) (*models.Story, error) {
	dir := filepath.Join(storiesDir, storyID)
	if !s.storage.FileExists(dir, "story.json") {
		return nil, apperrors.NewNotFoundError("story not found", nil)
	}

	var story models.Story
	if err := s.storage.LoadJSONFile(dir, "story.json", &story); err != nil {
		return nil, apperrors.NewProcessingError("load story", err)
	}
	if story.Chapters == nil {
		story.Chapters = []models.Chapter{}
	}
	return &story, nil
}

func (s *StoryService) saveStory(story *models.Story) error {
	dir := filepath.Join(storiesDir, story.ID)
	if err := s.storage.SaveJSONFile(dir, "story.json", story); err != nil {
		return apperrors.NewProcessingError("save story", err)
	}

	if s.indexer != nil {
		if err := s.indexer.IndexStory(story); err != nil {
			s.log.Warn().Err(err).Str("story", story.ID).Msg("search index update failed")
		}
	}
	return nil
}

func (s *StoryService) rebuildChapterIndex() error {
	if !s.storage.DirExists(storiesDir) {
		return nil
	}

	ids, err := s.storage.ListDirs(storiesDir)
	if err != nil {
		return apperrors.NewProcessingError("scan stories", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		story, err := s.loadStory(id)
		if err != nil {
			s.log.Warn().Err(err).Str("story", id).Msg("skipping unreadable story during index rebuild")
			continue
		}
		for _, chapter := range story.Chapters {
			s.chapterIndex[chapter.ID] = story.ID
		}
	}
	return nil
}
