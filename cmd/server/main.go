// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/app"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/di"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/services"
)

func main() {
	log := logger.For("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	createDirectories(cfg)

	if err := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		LogDir: cfg.LogDir,
		Pretty: cfg.DebugMode,
	}); err != nil {
		log.Fatal().Err(err).Msg("logger init failed")
	}
	log = logger.For("main")

	if err := app.InitServices(cfg); err != nil {
		log.Fatal().Err(err).Msg("service init failed")
	}
	defer app.Shutdown()

	if watcher := watchConfigFile(cfg); watcher != nil {
		defer watcher.Stop()
	}

	router, err := api.SetupRouter(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("router setup failed")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

// watchConfigFile starts a watcher on the YAML config file, when one is in
// use. Log level and autosave defaults are applied at runtime; everything
// else requires a restart, and a change to such a field is logged so the
// operator knows it has not taken effect.
func watchConfigFile(cfg *config.Config) *config.Watcher {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	log := logger.For("main")
	watcher, err := config.NewWatcher(path, func(old, new *config.Config) {
		if old.LogLevel != new.LogLevel {
			if err := logger.Init(logger.Options{
				Level:  new.LogLevel,
				LogDir: new.LogDir,
				Pretty: new.DebugMode,
			}); err != nil {
				log.Warn().Err(err).Msg("log level reload failed")
			} else {
				log.Info().Str("level", new.LogLevel).Msg("log level updated")
			}
		}
		if old.Autosave != new.Autosave {
			if settings, ok := di.GetContainer().Get("settings").(*services.SettingsService); ok {
				settings.ApplyConfigAutosave(new.Autosave.Enabled, new.Autosave.IntervalSeconds)
			}
		}
		if old.Port != new.Port || old.DataDir != new.DataDir {
			log.Warn().Msg("port and data_dir changes require a restart")
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watcher not started")
		return nil
	}
	return watcher
}

func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "stories"),
		filepath.Join(cfg.DataDir, "exports"),
		cfg.LogDir,
	}
	for _, dir := range dirs {
		os.MkdirAll(dir, 0o755)
	}
}
