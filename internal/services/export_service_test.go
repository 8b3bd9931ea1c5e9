// internal/services/export_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/storage"
)

func newExportFixture(t *testing.T) (*ExportService, *StatsService, string, string) {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	stories, err := NewStoryService(fs)
	require.NoError(t, err)

	story, err := stories.CreateStory("Ash and Salt", "A coastal elegy", "literary")
	require.NoError(t, err)
	chapter, err := stories.AddChapter(story.ID, "Low Tide")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = stories.CreateVersion(ctx, chapter.ID, "<p>The flats smelled of iron &amp; kelp.</p>", 6, models.VersionManual)
	require.NoError(t, err)
	_, err = stories.CreateVersion(ctx, chapter.ID, "<p>The flats smelled of iron and old kelp.</p>", 8, models.VersionAuto)
	require.NoError(t, err)

	return NewExportService(fs, stories), NewStatsService(stories), story.ID, chapter.ID
}

func TestExportMarkdown(t *testing.T) {
	exports, _, storyID, _ := newExportFixture(t)

	result, err := exports.Export(storyID, FormatMarkdown)
	require.NoError(t, err)

	assert.Equal(t, "text/markdown", result.MimeType)
	assert.Contains(t, result.Content, "# Ash and Salt")
	assert.Contains(t, result.Content, "## Low Tide")
	assert.Contains(t, result.Content, "iron and old kelp")
	assert.NotContains(t, result.Content, "<p>")
}

func TestExportPlainText(t *testing.T) {
	exports, _, storyID, _ := newExportFixture(t)

	result, err := exports.Export(storyID, FormatText)
	require.NoError(t, err)

	assert.Equal(t, "text/plain", result.MimeType)
	assert.Contains(t, result.Content, "Ash and Salt\n============")
	assert.NotContains(t, result.Content, "&amp;")
}

func TestExportUnknownFormat(t *testing.T) {
	exports, _, storyID, _ := newExportFixture(t)

	_, err := exports.Export(storyID, ExportFormat("pdf"))
	assert.True(t, apperrors.IsValidationError(err))
}

func TestStoryStats(t *testing.T) {
	_, stats, storyID, _ := newExportFixture(t)

	result, err := stats.StoryStats(storyID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ChapterCount)
	assert.Equal(t, 8, result.TotalWords)
	assert.Equal(t, 2, result.VersionCount)
	assert.Equal(t, 1, result.SavesByTag[string(models.VersionManual)])
	assert.Equal(t, 1, result.SavesByTag[string(models.VersionAuto)])
	assert.Equal(t, 0, result.SavesByTag[string(models.VersionAIAssisted)])
}
