// internal/services/settings_service.go
package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/internal/config"
	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/storage"
)

const settingsFile = "settings.json"

// Settings are the user-tunable knobs that survive restarts. They override
// the static config once the user has touched them.
type Settings struct {
	AutosaveEnabled         bool   `json:"autosave_enabled"`
	AutosaveIntervalSeconds int    `json:"autosave_interval_seconds"`
	LLMProvider             string `json:"llm_provider"`
	LLMModel                string `json:"llm_model"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	AutosaveEnabled         *bool   `json:"autosave_enabled,omitempty"`
	AutosaveIntervalSeconds *int    `json:"autosave_interval_seconds,omitempty"`
	LLMProvider             *string `json:"llm_provider,omitempty"`
	LLMModel                *string `json:"llm_model,omitempty"`
}

// SettingsService persists runtime settings and fans changes out: autosave
// changes reach every open editor session, model changes rebuild the
// provider.
type SettingsService struct {
	mu      sync.RWMutex
	current Settings

	storage *storage.FileStorage
	editor  *EditorService

	// persisted tracks whether the user has ever saved settings. Once
	// true, config-file reloads no longer touch the autosave defaults.
	persisted bool

	// onModelChange rebuilds the model backend; returns an error when the
	// requested provider cannot be initialized, in which case the old
	// settings stay in force.
	onModelChange func(provider, model string) error

	log zerolog.Logger
}

// NewSettingsService loads persisted settings, falling back to cfg for
// anything the user never changed.
func NewSettingsService(fs *storage.FileStorage, cfg *config.Config, editor *EditorService) (*SettingsService, error) {
	s := &SettingsService{
		storage: fs,
		editor:  editor,
		log:     logger.For("settings"),
	}

	s.current = Settings{
		AutosaveEnabled:         cfg.Autosave.Enabled,
		AutosaveIntervalSeconds: cfg.Autosave.IntervalSeconds,
		LLMProvider:             cfg.LLMProvider,
		LLMModel:                cfg.LLMModel,
	}

	if fs.FileExists(".", settingsFile) {
		var saved Settings
		if err := fs.LoadJSONFile(".", settingsFile, &saved); err != nil {
			return nil, apperrors.NewProcessingError("load settings", err)
		}
		saved.AutosaveIntervalSeconds = config.ClampIntervalSeconds(saved.AutosaveIntervalSeconds)
		s.current = saved
		s.persisted = true
	}

	return s, nil
}

// SetModelChangeHook installs the provider-rebuild callback. Must be set
// before Update is exposed to handlers.
func (s *SettingsService) SetModelChangeHook(hook func(provider, model string) error) {
	s.onModelChange = hook
}

// Get returns a copy of the current settings.
func (s *SettingsService) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies a partial update, persists it, and pushes the changes to
// the affected subsystems. Interval values are clamped, never rejected.
func (s *SettingsService) Update(update SettingsUpdate) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if update.AutosaveEnabled != nil {
		next.AutosaveEnabled = *update.AutosaveEnabled
	}
	if update.AutosaveIntervalSeconds != nil {
		next.AutosaveIntervalSeconds = config.ClampIntervalSeconds(*update.AutosaveIntervalSeconds)
	}
	if update.LLMProvider != nil {
		if *update.LLMProvider == "" {
			return s.current, apperrors.NewValidationError("llm provider cannot be empty", nil)
		}
		next.LLMProvider = *update.LLMProvider
	}
	if update.LLMModel != nil {
		next.LLMModel = *update.LLMModel
	}

	modelChanged := next.LLMProvider != s.current.LLMProvider || next.LLMModel != s.current.LLMModel
	if modelChanged && s.onModelChange != nil {
		if err := s.onModelChange(next.LLMProvider, next.LLMModel); err != nil {
			return s.current, apperrors.NewValidationError("model provider rejected", err)
		}
	}

	next.UpdatedAt = time.Now()
	if err := s.storage.SaveJSONFile(".", settingsFile, next); err != nil {
		return s.current, apperrors.NewProcessingError("save settings", err)
	}
	s.current = next
	s.persisted = true

	if s.editor != nil {
		s.editor.ApplyAutosaveDefaults(next.AutosaveEnabled, time.Duration(next.AutosaveIntervalSeconds)*time.Second)
	}

	s.log.Info().
		Bool("autosave", next.AutosaveEnabled).
		Int("interval_s", next.AutosaveIntervalSeconds).
		Str("provider", next.LLMProvider).
		Msg("settings updated")
	return next, nil
}

// ApplyConfigAutosave pushes reloaded config-file autosave defaults into the
// current settings and every open editor session. Settings the user has
// persisted override the config file, so the reload is ignored once a
// settings file exists.
func (s *SettingsService) ApplyConfigAutosave(enabled bool, intervalSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persisted {
		s.log.Info().Msg("config autosave change ignored, persisted settings take precedence")
		return
	}

	s.current.AutosaveEnabled = enabled
	s.current.AutosaveIntervalSeconds = config.ClampIntervalSeconds(intervalSeconds)

	if s.editor != nil {
		s.editor.ApplyAutosaveDefaults(s.current.AutosaveEnabled,
			time.Duration(s.current.AutosaveIntervalSeconds)*time.Second)
	}

	s.log.Info().
		Bool("autosave", s.current.AutosaveEnabled).
		Int("interval_s", s.current.AutosaveIntervalSeconds).
		Msg("autosave defaults reloaded from config")
}
