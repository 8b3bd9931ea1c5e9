// internal/api/router.go
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/di"
	"github.com/storyloom/storyloom/internal/ratelimit"
	"github.com/storyloom/storyloom/internal/services"
)

// SetupRouter wires the HTTP surface. Services come from the DI container;
// the router never constructs them.
func SetupRouter(cfg *config.Config) (*gin.Engine, error) {
	container := di.GetContainer()

	stories, ok := container.Get("story").(*services.StoryService)
	if !ok {
		return nil, fmt.Errorf("story service not initialized")
	}
	foundations, ok := container.Get("foundation").(*services.FoundationService)
	if !ok {
		return nil, fmt.Errorf("foundation service not initialized")
	}
	editor, ok := container.Get("editor").(*services.EditorService)
	if !ok {
		return nil, fmt.Errorf("editor service not initialized")
	}
	speech, ok := container.Get("speech").(*services.SpeechService)
	if !ok {
		return nil, fmt.Errorf("speech service not initialized")
	}
	ai, ok := container.Get("ai").(*services.AIService)
	if !ok {
		return nil, fmt.Errorf("ai service not initialized")
	}
	searchSvc, ok := container.Get("search").(*services.SearchService)
	if !ok {
		return nil, fmt.Errorf("search service not initialized")
	}
	settings, ok := container.Get("settings").(*services.SettingsService)
	if !ok {
		return nil, fmt.Errorf("settings service not initialized")
	}
	exports, ok := container.Get("export").(*services.ExportService)
	if !ok {
		return nil, fmt.Errorf("export service not initialized")
	}
	stats, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("stats service not initialized")
	}
	hub, ok := container.Get("hub").(*Hub)
	if !ok {
		return nil, fmt.Errorf("websocket hub not initialized")
	}

	handler := NewHandler(stories, foundations, editor, speech, ai, searchSvc, settings, exports, stats, hub)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogMiddleware())
	r.Use(corsMiddleware())

	r.GET("/healthz", handler.Health)

	// WebSocket transport
	r.GET("/ws/editor/:chapter_id", handler.EditorSocket)
	r.GET("/ws/speech", handler.SpeechSocket)

	aiLimiter := ratelimit.New(cfg.AILimit.RequestsPerSecond, cfg.AILimit.Burst)

	api := r.Group("/api")
	{
		storiesGroup := api.Group("/stories")
		{
			storiesGroup.GET("", handler.ListStories)
			storiesGroup.POST("", handler.CreateStory)
			storiesGroup.GET("/:id", handler.GetStory)
			storiesGroup.PUT("/:id", handler.UpdateStory)
			storiesGroup.DELETE("/:id", handler.DeleteStory)

			storiesGroup.POST("/:id/chapters", handler.AddChapter)
			storiesGroup.PUT("/:id/chapters/order", handler.ReorderChapters)

			storiesGroup.GET("/:id/export", handler.ExportStory)
			storiesGroup.GET("/:id/stats", handler.GetStoryStats)

			foundationGroup := storiesGroup.Group("/:id/foundation")
			{
				foundationGroup.GET("", handler.GetFoundation)
				foundationGroup.PUT("/world", handler.SaveWorld)
				foundationGroup.PUT("/genre", handler.SaveGenre)
				foundationGroup.POST("/characters", handler.AddCharacter)
				foundationGroup.PUT("/characters/:character_id", handler.UpdateCharacter)
				foundationGroup.DELETE("/characters/:character_id", handler.RemoveCharacter)

				generate := foundationGroup.Group("", aiLimitMiddleware(aiLimiter, handler.Responses))
				{
					generate.POST("/world/generate", handler.GenerateWorldDetails)
					generate.POST("/genre/generate", handler.GenerateGenreDetails)
					generate.POST("/characters/:character_id/generate", handler.GenerateCharacterDetails)
				}
			}
		}

		chaptersGroup := api.Group("/chapters")
		{
			chaptersGroup.GET("/:chapter_id", handler.GetChapter)
			chaptersGroup.PUT("/:chapter_id", handler.RenameChapter)
			chaptersGroup.DELETE("/:chapter_id", handler.DeleteChapter)

			chaptersGroup.GET("/:chapter_id/versions", handler.ListVersions)
			chaptersGroup.GET("/:chapter_id/versions/:version_id", handler.GetVersion)
			chaptersGroup.POST("/:chapter_id/versions/:version_id/restore", handler.RestoreVersion)
		}

		aiGroup := api.Group("/ai", aiLimitMiddleware(aiLimiter, handler.Responses))
		{
			aiGroup.POST("/suggestions", handler.GetSuggestions)
			aiGroup.POST("/chat", handler.CharacterChat)
			aiGroup.POST("/continue", handler.ContinueStory)
		}

		api.POST("/editor/sessions/:session_id/commit-ai", handler.CommitAIContent)

		api.GET("/search", handler.SearchStories)

		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("", handler.UpdateSettings)
		}

		api.GET("/metrics", handler.GetMetrics)
	}

	return r, nil
}
