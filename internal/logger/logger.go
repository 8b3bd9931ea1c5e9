// internal/logger/logger.go
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Global logger state. Components grab tagged sub-loggers via For so log
// lines carry their origin.
var (
	mu   sync.RWMutex
	root zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Options configures logger initialization.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// LogDir, when non-empty, appends JSON log lines to server.log in that
	// directory in addition to stderr.
	LogDir string

	// Pretty enables the human-readable console writer (debug mode).
	Pretty bool
}

// Init configures the process-wide logger.
func Init(opts Options) error {
	level, err := zerolog.ParseLevel(levelOrDefault(opts.Level))
	if err != nil {
		return err
	}

	writers := []io.Writer{}
	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		writers = append(writers, os.Stderr)
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return err
		}
		file, err := os.OpenFile(filepath.Join(opts.LogDir, "server.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	mu.Lock()
	defer mu.Unlock()
	root = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return nil
}

// For returns a sub-logger tagged with the given component name.
func For(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}
