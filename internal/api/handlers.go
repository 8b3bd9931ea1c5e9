// internal/api/handlers.go
package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/search"
	"github.com/storyloom/storyloom/internal/services"
)

// Handler carries the request handlers and their service dependencies.
// Services come from the DI container; the handler never constructs them.
type Handler struct {
	Stories     *services.StoryService
	Foundations *services.FoundationService
	Editor      *services.EditorService
	Speech      *services.SpeechService
	AI          *services.AIService
	Search      *services.SearchService
	Settings    *services.SettingsService
	Exports     *services.ExportService
	Stats       *services.StatsService

	Hub       *Hub
	Responses *ResponseHelper
}

func NewHandler(
	stories *services.StoryService,
	foundations *services.FoundationService,
	editor *services.EditorService,
	speech *services.SpeechService,
	ai *services.AIService,
	searchSvc *services.SearchService,
	settings *services.SettingsService,
	exports *services.ExportService,
	stats *services.StatsService,
	hub *Hub,
) *Handler {
	return &Handler{
		Stories:     stories,
		Foundations: foundations,
		Editor:      editor,
		Speech:      speech,
		AI:          ai,
		Search:      searchSvc,
		Settings:    settings,
		Exports:     exports,
		Stats:       stats,
		Hub:         hub,
		Responses:   NewResponseHelper(),
	}
}

// ---- stories ----

type createStoryRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
}

func (h *Handler) CreateStory(c *gin.Context) {
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid story payload", err.Error())
		return
	}

	story, err := h.Stories.CreateStory(req.Title, req.Description, req.Genre)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Created(c, story)
}

func (h *Handler) ListStories(c *gin.Context) {
	stories, err := h.Stories.ListStories()
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, stories)
}

func (h *Handler) GetStory(c *gin.Context) {
	story, err := h.Stories.GetStory(c.Param("id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, story)
}

func (h *Handler) UpdateStory(c *gin.Context) {
	var update services.StoryUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.Responses.BadRequest(c, "invalid story update", err.Error())
		return
	}

	story, err := h.Stories.UpdateStory(c.Param("id"), update)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, story)
}

func (h *Handler) DeleteStory(c *gin.Context) {
	if err := h.Stories.DeleteStory(c.Param("id")); err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, nil, "story deleted")
}

// ---- chapters ----

type addChapterRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) AddChapter(c *gin.Context) {
	var req addChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid chapter payload", err.Error())
		return
	}

	chapter, err := h.Stories.AddChapter(c.Param("id"), req.Title)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Created(c, chapter)
}

type reorderRequest struct {
	ChapterIDs []string `json:"chapter_ids" binding:"required"`
}

func (h *Handler) ReorderChapters(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid reorder payload", err.Error())
		return
	}

	story, err := h.Stories.ReorderChapters(c.Param("id"), req.ChapterIDs)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, story)
}

func (h *Handler) GetChapter(c *gin.Context) {
	chapter, err := h.Stories.GetChapter(c.Param("chapter_id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, chapter)
}

type renameChapterRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameChapter(c *gin.Context) {
	var req renameChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid chapter payload", err.Error())
		return
	}

	chapter, err := h.Stories.UpdateChapterTitle(c.Param("chapter_id"), req.Title)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, chapter)
}

func (h *Handler) DeleteChapter(c *gin.Context) {
	if err := h.Stories.DeleteChapter(c.Param("chapter_id")); err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, nil, "chapter deleted")
}

// ---- versions ----

func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.Stories.ListVersions(c.Param("chapter_id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, versions)
}

func (h *Handler) GetVersion(c *gin.Context) {
	version, err := h.Stories.GetVersion(c.Param("chapter_id"), c.Param("version_id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, version)
}

func (h *Handler) RestoreVersion(c *gin.Context) {
	version, err := h.Stories.RestoreVersion(c.Request.Context(), c.Param("chapter_id"), c.Param("version_id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, version, "version restored")
}

// ---- foundation ----

func (h *Handler) GetFoundation(c *gin.Context) {
	foundation, err := h.Foundations.GetFoundation(c.Param("id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, foundation)
}

func (h *Handler) SaveWorld(c *gin.Context) {
	var world models.WorldFoundation
	if err := c.ShouldBindJSON(&world); err != nil {
		h.Responses.BadRequest(c, "invalid world payload", err.Error())
		return
	}

	foundation, err := h.Foundations.SaveWorld(c.Param("id"), world)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, foundation)
}

func (h *Handler) SaveGenre(c *gin.Context) {
	var genre models.GenreFoundation
	if err := c.ShouldBindJSON(&genre); err != nil {
		h.Responses.BadRequest(c, "invalid genre payload", err.Error())
		return
	}

	foundation, err := h.Foundations.SaveGenre(c.Param("id"), genre)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, foundation)
}

func (h *Handler) AddCharacter(c *gin.Context) {
	var input services.CharacterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.Responses.BadRequest(c, "invalid character payload", err.Error())
		return
	}

	character, err := h.Foundations.UpsertCharacter(c.Param("id"), "", input)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Created(c, character)
}

func (h *Handler) UpdateCharacter(c *gin.Context) {
	var input services.CharacterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.Responses.BadRequest(c, "invalid character payload", err.Error())
		return
	}

	character, err := h.Foundations.UpsertCharacter(c.Param("id"), c.Param("character_id"), input)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, character)
}

func (h *Handler) RemoveCharacter(c *gin.Context) {
	if err := h.Foundations.RemoveCharacter(c.Param("id"), c.Param("character_id")); err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, nil, "character removed")
}

// ---- AI-backed foundation fill-in ----

func (h *Handler) GenerateWorldDetails(c *gin.Context) {
	storyID := c.Param("id")

	details, err := h.AI.GenerateWorldDetails(c.Request.Context(), storyID)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}

	foundation, err := h.Foundations.ApplyWorldDetails(storyID, *details)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, foundation)
}

func (h *Handler) GenerateGenreDetails(c *gin.Context) {
	storyID := c.Param("id")

	details, err := h.AI.GenerateGenreDetails(c.Request.Context(), storyID)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}

	foundation, err := h.Foundations.ApplyGenreDetails(storyID, *details)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, foundation)
}

func (h *Handler) GenerateCharacterDetails(c *gin.Context) {
	storyID := c.Param("id")
	characterID := c.Param("character_id")

	details, err := h.AI.GenerateCharacterDetails(c.Request.Context(), storyID, characterID)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}

	character, err := h.Foundations.ApplyCharacterDetails(storyID, characterID, *details)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, character)
}

// ---- AI ----

type suggestionsRequest struct {
	StoryID   string `json:"story_id" binding:"required"`
	ChapterID string `json:"chapter_id" binding:"required"`
}

// GetSuggestions always answers 200 with a suggestion set; a failed model
// call yields the empty set.
func (h *Handler) GetSuggestions(c *gin.Context) {
	var req suggestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid suggestions payload", err.Error())
		return
	}

	set := h.AI.GenerateSuggestions(c.Request.Context(), req.StoryID, req.ChapterID)
	h.Responses.Success(c, set)
}

type characterChatRequest struct {
	StoryID     string `json:"story_id" binding:"required"`
	CharacterID string `json:"character_id" binding:"required"`
	Message     string `json:"message" binding:"required"`
}

func (h *Handler) CharacterChat(c *gin.Context) {
	var req characterChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid chat payload", err.Error())
		return
	}

	reply := h.AI.CharacterReply(c.Request.Context(), req.StoryID, req.CharacterID, req.Message)
	h.Responses.Success(c, gin.H{"reply": reply})
}

type continueRequest struct {
	StoryID   string `json:"story_id" binding:"required"`
	ChapterID string `json:"chapter_id" binding:"required"`
	Direction string `json:"direction"`
}

func (h *Handler) ContinueStory(c *gin.Context) {
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid continuation payload", err.Error())
		return
	}

	continuation, err := h.AI.ContinueStory(c.Request.Context(), req.StoryID, req.ChapterID, req.Direction)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, continuation)
}

type commitAIRequest struct {
	Content string `json:"content" binding:"required"`
}

// CommitAIContent writes accepted AI text into an open editor session and
// persists it as an ai-assisted version.
func (h *Handler) CommitAIContent(c *gin.Context) {
	var req commitAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Responses.BadRequest(c, "invalid commit payload", err.Error())
		return
	}

	session, err := h.Editor.GetSession(c.Param("session_id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}

	version, err := session.CommitAIContent(c.Request.Context(), req.Content)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, gin.H{"version": version, "snapshot": session.Snapshot()})
}

// ---- search ----

func (h *Handler) SearchStories(c *gin.Context) {
	params := search.Params{
		Query:   c.Query("q"),
		StoryID: c.Query("story_id"),
	}
	if t := c.Query("type"); t != "" {
		params.Types = []search.DocType{search.DocType(t)}
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		params.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		params.Offset = offset
	}

	result, err := h.Search.Search(c.Request.Context(), params)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, result)
}

// ---- export and stats ----

func (h *Handler) ExportStory(c *gin.Context) {
	format := services.ExportFormat(c.DefaultQuery("format", string(services.FormatMarkdown)))

	result, err := h.Exports.Export(c.Param("id"), format)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.FileResponse(c, result.Content, result.Filename, result.MimeType)
}

func (h *Handler) GetStoryStats(c *gin.Context) {
	stats, err := h.Stats.StoryStats(c.Param("id"))
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, stats)
}

// ---- settings ----

func (h *Handler) GetSettings(c *gin.Context) {
	h.Responses.Success(c, h.Settings.Get())
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var update services.SettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.Responses.BadRequest(c, "invalid settings payload", err.Error())
		return
	}

	settings, err := h.Settings.Update(update)
	if err != nil {
		h.Responses.FromAppError(c, err)
		return
	}
	h.Responses.Success(c, settings, "settings updated")
}

// ---- system ----

func (h *Handler) Health(c *gin.Context) {
	h.Responses.Success(c, gin.H{
		"status":   "ok",
		"ai_ready": h.AI.Ready(),
	})
}

func (h *Handler) GetMetrics(c *gin.Context) {
	editors, speech := h.Hub.ConnectionCounts()
	h.Responses.Success(c, gin.H{
		"counters":        metrics.Get().Snapshot(),
		"editor_sessions": h.Editor.SessionCount(),
		"editor_sockets":  editors,
		"speech_sockets":  speech,
	})
}

// ---- websockets ----

func (h *Handler) EditorSocket(c *gin.Context) {
	h.Hub.EditorSocket(c, h.Editor)
}

func (h *Handler) SpeechSocket(c *gin.Context) {
	h.Hub.SpeechSocket(c, h.Speech)
}
