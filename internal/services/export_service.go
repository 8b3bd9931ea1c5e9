// internal/services/export_service.go
package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/storage"
	"github.com/storyloom/storyloom/internal/utils"
)

const exportsDir = "exports"

// ExportFormat names a supported export target.
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "markdown"
	FormatText     ExportFormat = "txt"
)

// ExportResult carries the rendered document plus where it was archived.
type ExportResult struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

// ExportService renders a story into a downloadable document. Every export
// is also archived under the data dir.
type ExportService struct {
	storage *storage.FileStorage
	stories *StoryService
	log     zerolog.Logger
}

func NewExportService(fs *storage.FileStorage, stories *StoryService) *ExportService {
	return &ExportService{
		storage: fs,
		stories: stories,
		log:     logger.For("export"),
	}
}

// Export renders the story in the requested format.
func (s *ExportService) Export(storyID string, format ExportFormat) (*ExportResult, error) {
	story, err := s.stories.GetStory(storyID)
	if err != nil {
		return nil, err
	}

	var content, ext, mime string
	switch format {
	case FormatMarkdown:
		content = renderMarkdown(story)
		ext, mime = "md", "text/markdown"
	case FormatText:
		content = renderPlainText(story)
		ext, mime = "txt", "text/plain"
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported export format %q", format), nil)
	}

	filename := fmt.Sprintf("story_%s_%d.%s", storyID, time.Now().Unix(), ext)
	if err := s.storage.SaveTextFile(exportsDir, filename, []byte(content)); err != nil {
		s.log.Warn().Err(err).Str("story", storyID).Msg("export archive write failed")
	}

	return &ExportResult{Filename: filename, MimeType: mime, Content: content}, nil
}

func renderMarkdown(story *models.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", story.Title)
	if story.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", story.Description)
	}
	for _, chapter := range story.Chapters {
		fmt.Fprintf(&b, "## %s\n\n", chapter.Title)
		text := utils.StripMarkup(chapter.Content)
		if text != "" {
			fmt.Fprintf(&b, "%s\n\n", text)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderPlainText(story *models.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", story.Title, strings.Repeat("=", len(story.Title)))
	for _, chapter := range story.Chapters {
		fmt.Fprintf(&b, "%s\n%s\n\n", chapter.Title, strings.Repeat("-", len(chapter.Title)))
		text := utils.StripMarkup(chapter.Content)
		if text != "" {
			fmt.Fprintf(&b, "%s\n\n", text)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
