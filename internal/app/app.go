// internal/app/app.go
package app

import (
	"fmt"
	"time"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/di"
	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/services"
	"github.com/storyloom/storyloom/internal/storage"

	// Provider registrations.
	_ "github.com/storyloom/storyloom/internal/llm/providers/anthropic"
	_ "github.com/storyloom/storyloom/internal/llm/providers/openai"
)

// InitServices builds every service in dependency order and registers it
// in the DI container. The router only reads from the container.
func InitServices(cfg *config.Config) error {
	container := di.GetContainer()
	log := logger.For("app")

	fs, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	container.Register("storage", fs)

	stories, err := services.NewStoryService(fs)
	if err != nil {
		return fmt.Errorf("init story service: %w", err)
	}
	container.Register("story", stories)

	foundations := services.NewFoundationService(fs)
	container.Register("foundation", foundations)

	searchSvc, err := services.NewSearchService(cfg.DataDir, stories)
	if err != nil {
		return fmt.Errorf("init search service: %w", err)
	}
	container.Register("search", searchSvc)

	editor := services.NewEditorService(stories, stories, cfg.Autosave.Enabled, cfg.AutosaveInterval(), cfg.NetworkTimeout())
	container.Register("editor", editor)

	speech := services.NewSpeechService(cfg.SpeechRestartDelay())
	container.Register("speech", speech)

	completer, model := buildCompleter(cfg, cfg.LLMProvider, cfg.LLMModel)
	if completer == nil {
		log.Warn().Str("provider", cfg.LLMProvider).Msg("no model backend configured, AI features degrade to fallbacks")
	}
	ai := services.NewAIService(completer, model, foundations, stories, cfg.NetworkTimeout())
	container.Register("ai", ai)

	settings, err := services.NewSettingsService(fs, cfg, editor)
	if err != nil {
		return fmt.Errorf("init settings service: %w", err)
	}
	settings.SetModelChangeHook(func(provider, modelName string) error {
		p, err := llm.GetProvider(provider, providerConfig(cfg, provider, modelName))
		if err != nil {
			return err
		}
		ai.SetProvider(p, modelName)
		return nil
	})
	container.Register("settings", settings)

	// Persisted settings override the static config at boot.
	saved := settings.Get()
	editor.ApplyAutosaveDefaults(saved.AutosaveEnabled, time.Duration(saved.AutosaveIntervalSeconds)*time.Second)
	if saved.LLMProvider != cfg.LLMProvider || saved.LLMModel != cfg.LLMModel {
		if c, m := buildCompleter(cfg, saved.LLMProvider, saved.LLMModel); c != nil {
			ai.SetProvider(c, m)
		}
	}

	container.Register("export", services.NewExportService(fs, stories))
	container.Register("stats", services.NewStatsService(stories))

	hub := api.NewHub()
	editor.SetNotifier(hub.NotifySave)
	container.Register("hub", hub)

	log.Info().Int("services", len(container.GetNames())).Msg("services initialized")
	return nil
}

// Shutdown tears the services down in reverse dependency order.
func Shutdown() {
	container := di.GetContainer()
	log := logger.For("app")

	if hub, ok := container.Get("hub").(*api.Hub); ok {
		hub.Shutdown()
	}
	if editor, ok := container.Get("editor").(*services.EditorService); ok {
		editor.Shutdown()
	}
	if speech, ok := container.Get("speech").(*services.SpeechService); ok {
		speech.Shutdown()
	}
	if searchSvc, ok := container.Get("search").(*services.SearchService); ok {
		if err := searchSvc.Close(); err != nil {
			log.Warn().Err(err).Msg("search index close failed")
		}
	}
	if fs, ok := container.Get("storage").(*storage.FileStorage); ok {
		fs.Close()
	}

	log.Info().Msg("services shut down")
}

func buildCompleter(cfg *config.Config, provider, model string) (services.Completer, string) {
	conf := providerConfig(cfg, provider, model)
	if conf["api_key"] == "" {
		return nil, model
	}

	p, err := llm.GetProvider(provider, conf)
	if err != nil {
		log := logger.For("app")
		log.Warn().Err(err).Str("provider", provider).Msg("model provider init failed")
		return nil, model
	}
	return p, model
}

func providerConfig(cfg *config.Config, provider, model string) map[string]string {
	conf := map[string]string{"default_model": model}
	switch provider {
	case "anthropic":
		conf["api_key"] = cfg.AnthropicAPIKey
	default:
		conf["api_key"] = cfg.OpenAIAPIKey
	}
	return conf
}
