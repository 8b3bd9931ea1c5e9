// internal/services/search_service.go
package services

import (
	"context"

	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/search"
)

// SearchService keeps the full-text index in step with story writes and
// serves queries. It implements StoryIndexer, so StoryService pushes every
// change here.
type SearchService struct {
	index   *search.Index
	metrics *metrics.Collector
	log     zerolog.Logger
}

// NewSearchService opens the index under dataDir and rebuilds it from the
// story service when the on-disk index was missing or outdated. It also
// registers itself as the story service's indexer.
func NewSearchService(dataDir string, stories *StoryService) (*SearchService, error) {
	index, created, err := search.Open(dataDir)
	if err != nil {
		return nil, apperrors.NewProcessingError("open search index", err)
	}

	s := &SearchService{
		index:   index,
		metrics: metrics.Get(),
		log:     logger.For("search"),
	}

	if created {
		all, err := stories.ListStories()
		if err != nil {
			index.Close()
			return nil, err
		}
		if err := index.Rebuild(all); err != nil {
			index.Close()
			return nil, apperrors.NewProcessingError("rebuild search index", err)
		}
	}

	stories.SetIndexer(s)
	return s, nil
}

// Search runs a query against the index.
func (s *SearchService) Search(ctx context.Context, params search.Params) (*search.Result, error) {
	if params.Query == "" {
		return nil, apperrors.NewValidationError("search query is required", nil)
	}

	s.metrics.Increment(metrics.SearchQueries)
	result, err := s.index.Search(ctx, params)
	if err != nil {
		return nil, apperrors.NewProcessingError("search failed", err)
	}
	return result, nil
}

// IndexStory implements StoryIndexer.
func (s *SearchService) IndexStory(story *models.Story) error {
	return s.index.IndexStory(story)
}

// RemoveStory implements StoryIndexer.
func (s *SearchService) RemoveStory(storyID string) error {
	return s.index.RemoveStory(storyID)
}

// Close releases the index.
func (s *SearchService) Close() error {
	return s.index.Close()
}
