// internal/api/handlers_test.go
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/services"
	"github.com/storyloom/storyloom/internal/storage"
)

// envelope mirrors APIResponse with raw data so each test decodes its own
// payload type.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Message string          `json:"message"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	stories, err := services.NewStoryService(fs)
	require.NoError(t, err)

	handler := &Handler{
		Stories:     stories,
		Foundations: services.NewFoundationService(fs),
		Exports:     services.NewExportService(fs, stories),
		Stats:       services.NewStatsService(stories),
		Responses:   NewResponseHelper(),
	}

	r := gin.New()
	r.POST("/api/stories", handler.CreateStory)
	r.GET("/api/stories", handler.ListStories)
	r.GET("/api/stories/:id", handler.GetStory)
	r.POST("/api/stories/:id/chapters", handler.AddChapter)
	r.GET("/api/stories/:id/export", handler.ExportStory)
	r.GET("/api/stories/:id/stats", handler.GetStoryStats)
	r.PUT("/api/chapters/:chapter_id", handler.RenameChapter)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestCreateAndFetchStory(t *testing.T) {
	r := newTestRouter(t)

	rec, env := doJSON(t, r, http.MethodPost, "/api/stories",
		gin.H{"title": "Northern Lights", "genre": "fantasy"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)

	var created models.Story
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Northern Lights", created.Title)

	rec, env = doJSON(t, r, http.MethodGet, "/api/stories/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched models.Story
	require.NoError(t, json.Unmarshal(env.Data, &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestCreateStoryRejectsMissingTitle(t *testing.T) {
	r := newTestRouter(t)

	rec, env := doJSON(t, r, http.MethodPost, "/api/stories", gin.H{"genre": "noir"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestGetStoryNotFoundEnvelope(t *testing.T) {
	r := newTestRouter(t)

	rec, env := doJSON(t, r, http.MethodGet, "/api/stories/no-such-story", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestChapterEndpoints(t *testing.T) {
	r := newTestRouter(t)

	_, env := doJSON(t, r, http.MethodPost, "/api/stories", gin.H{"title": "Draft"})
	var story models.Story
	require.NoError(t, json.Unmarshal(env.Data, &story))

	rec, env := doJSON(t, r, http.MethodPost, "/api/stories/"+story.ID+"/chapters",
		gin.H{"title": "Chapter One"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var chapter models.Chapter
	require.NoError(t, json.Unmarshal(env.Data, &chapter))
	assert.Equal(t, 1, chapter.Position)

	rec, env = doJSON(t, r, http.MethodPut, "/api/chapters/"+chapter.ID,
		gin.H{"title": "Opening"})
	require.Equal(t, http.StatusOK, rec.Code)

	var renamed models.Chapter
	require.NoError(t, json.Unmarshal(env.Data, &renamed))
	assert.Equal(t, "Opening", renamed.Title)

	rec, env = doJSON(t, r, http.MethodGet, "/api/stories/"+story.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats services.StoryStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.ChapterCount)
}

func TestExportStoryDownload(t *testing.T) {
	r := newTestRouter(t)

	_, env := doJSON(t, r, http.MethodPost, "/api/stories", gin.H{"title": "Exported"})
	var story models.Story
	require.NoError(t, json.Unmarshal(env.Data, &story))

	req := httptest.NewRequest(http.MethodGet, "/api/stories/"+story.ID+"/export?format=markdown", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "# Exported")
}
