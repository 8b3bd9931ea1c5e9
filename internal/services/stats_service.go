// internal/services/stats_service.go
package services

import (
	"time"

	"github.com/storyloom/storyloom/internal/models"
)

// StoryStats summarizes one story's writing activity.
type StoryStats struct {
	StoryID      string         `json:"story_id"`
	ChapterCount int            `json:"chapter_count"`
	TotalWords   int            `json:"total_words"`
	VersionCount int            `json:"version_count"`
	SavesByTag   map[string]int `json:"saves_by_tag"`
	LastUpdated  time.Time      `json:"last_updated"`
}

// StatsService computes activity summaries from persisted state. Derived
// on demand, never stored.
type StatsService struct {
	stories *StoryService
}

func NewStatsService(stories *StoryService) *StatsService {
	return &StatsService{stories: stories}
}

// StoryStats walks the story's chapters and version histories.
func (s *StatsService) StoryStats(storyID string) (*StoryStats, error) {
	story, err := s.stories.GetStory(storyID)
	if err != nil {
		return nil, err
	}

	stats := &StoryStats{
		StoryID:      storyID,
		ChapterCount: len(story.Chapters),
		SavesByTag: map[string]int{
			string(models.VersionAuto):       0,
			string(models.VersionManual):     0,
			string(models.VersionAIAssisted): 0,
		},
		LastUpdated: story.UpdatedAt,
	}

	for _, chapter := range story.Chapters {
		stats.TotalWords += chapter.WordCount

		versions, err := s.stories.ListVersions(chapter.ID)
		if err != nil {
			return nil, err
		}
		stats.VersionCount += len(versions)
		for _, version := range versions {
			stats.SavesByTag[string(version.Tag)]++
		}
	}

	return stats, nil
}
