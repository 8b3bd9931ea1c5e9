// internal/services/editor_service.go
package services

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/metrics"
)

// ChapterReader loads chapter content for session construction.
// Implemented by StoryService.
type ChapterReader interface {
	GetChapterContent(chapterID string) (string, error)
}

// EditorService owns the open editor sessions. One session per open
// chapter per client; sessions are created on open and discarded on close,
// never persisted.
type EditorService struct {
	mu       sync.RWMutex
	sessions map[string]*EditorSession

	writer  VersionWriter
	reader  ChapterReader
	notify  func(SaveEvent)
	metrics *metrics.Collector
	log     zerolog.Logger

	defaultsMu      sync.RWMutex
	autoSaveEnabled bool
	interval        time.Duration
	saveTimeout     time.Duration
}

// NewEditorService creates the session registry. The interval is the
// default for new sessions; each session can be retuned individually.
func NewEditorService(writer VersionWriter, reader ChapterReader, autoSaveEnabled bool, interval, saveTimeout time.Duration) *EditorService {
	return &EditorService{
		sessions:        make(map[string]*EditorSession),
		writer:          writer,
		reader:          reader,
		metrics:         metrics.Get(),
		log:             logger.For("editor"),
		autoSaveEnabled: autoSaveEnabled,
		interval:        interval,
		saveTimeout:     saveTimeout,
	}
}

// SetNotifier installs the save-event sink (the websocket hub). Must be
// called before sessions are opened.
func (s *EditorService) SetNotifier(notify func(SaveEvent)) {
	s.notify = notify
}

// OpenSession starts an editing session for chapterID, seeded with the
// chapter's persisted content.
func (s *EditorService) OpenSession(chapterID string) (*EditorSession, error) {
	content, err := s.reader.GetChapterContent(chapterID)
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, apperrors.NewProcessingError("generate session id", err)
	}

	s.defaultsMu.RLock()
	cfg := EditorSessionConfig{
		AutoSaveEnabled: s.autoSaveEnabled,
		Interval:        s.interval,
		SaveTimeout:     s.saveTimeout,
		Notify:          s.notify,
		Metrics:         s.metrics,
	}
	s.defaultsMu.RUnlock()

	session := NewEditorSession(id, chapterID, content, s.writer, cfg)

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.metrics.Increment(metrics.EditorSessions)
	s.log.Info().Str("session", id).Str("chapter", chapterID).Msg("editor session opened")
	return session, nil
}

// GetSession returns the open session with the given id.
func (s *EditorService) GetSession(id string) (*EditorSession, error) {
	s.mu.RLock()
	session, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return nil, apperrors.NewNotFoundError("editor session not found", nil)
	}
	return session, nil
}

// CloseSession tears down the session. Unsaved edits are discarded.
func (s *EditorService) CloseSession(id string) error {
	s.mu.Lock()
	session, exists := s.sessions[id]
	if exists {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !exists {
		return apperrors.NewNotFoundError("editor session not found", nil)
	}

	session.Close()
	s.log.Info().Str("session", id).Msg("editor session closed")
	return nil
}

// SessionCount returns the number of open sessions.
func (s *EditorService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ApplyAutosaveDefaults updates the defaults for new sessions and pushes
// the change into every open session, which reschedules pending timers.
func (s *EditorService) ApplyAutosaveDefaults(enabled bool, interval time.Duration) {
	s.defaultsMu.Lock()
	s.autoSaveEnabled = enabled
	s.interval = interval
	s.defaultsMu.Unlock()

	s.mu.RLock()
	sessions := make([]*EditorSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	for _, session := range sessions {
		session.SetInterval(interval)
		session.SetAutoSave(enabled)
	}
}

// Shutdown closes all open sessions.
func (s *EditorService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*EditorSession)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
