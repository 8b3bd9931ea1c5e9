// internal/services/editor_session.go
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/utils"
)

// SessionState names the autosave coordinator states.
type SessionState string

const (
	// StateClean: content matches the last saved snapshot, no timer armed.
	StateClean SessionState = "clean"
	// StateDirtyWaiting: unsaved edits exist; the debounce timer is armed
	// when autosave is enabled.
	StateDirtyWaiting SessionState = "dirty-waiting"
	// StateSaving: a save is in flight. At most one per session.
	StateSaving SessionState = "saving"
	// StateError: the last save failed; content remains dirty.
	StateError SessionState = "error"
)

// VersionWriter persists version snapshots. Implemented by StoryService.
type VersionWriter interface {
	CreateVersion(ctx context.Context, chapterID, content string, wordCount int, tag models.VersionTag) (*models.Version, error)
}

// SaveEvent reports save lifecycle transitions to the transport layer so
// the client can render save status.
type SaveEvent struct {
	SessionID string             `json:"session_id"`
	ChapterID string             `json:"chapter_id"`
	State     SessionState       `json:"state"`
	Tag       models.VersionTag  `json:"tag,omitempty"`
	Version   *models.Version    `json:"version,omitempty"`
	Error     string             `json:"error,omitempty"`
	SavedAt   time.Time          `json:"saved_at,omitempty"`
}

// EditorSessionConfig carries the knobs an editor session is built with.
// Min/MaxInterval default to the documented 5s to 120s range; tests shrink them.
type EditorSessionConfig struct {
	AutoSaveEnabled bool
	Interval        time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	SaveTimeout     time.Duration
	Notify          func(SaveEvent)
	Metrics         *metrics.Collector
}

// EditorSession coordinates when and what to persist for one open chapter.
// It owns the current/last-saved content pair, the dirty flag, and the
// trailing-edge debounce timer. All mutations of that shared state go
// through SetContent or the save path; the session is the single writer.
//
// Lifecycle: constructed when a chapter is opened, torn down via Close when
// the editor navigates away. Session state is never persisted; only
// committed versions survive.
type EditorSession struct {
	id        string
	chapterID string
	writer    VersionWriter

	mu          sync.Mutex
	current     string
	lastSaved   string
	lastSavedAt time.Time
	dirty       bool

	autoSave    bool
	interval    time.Duration
	minInterval time.Duration
	maxInterval time.Duration
	saveTimeout time.Duration

	state  SessionState
	saving bool
	timer  *time.Timer
	closed bool

	notify  func(SaveEvent)
	metrics *metrics.Collector
	log     zerolog.Logger
}

// NewEditorSession creates a session for chapterID whose editor surface
// currently shows content. The session starts clean: content is taken as
// the last durably saved snapshot.
func NewEditorSession(id, chapterID, content string, writer VersionWriter, cfg EditorSessionConfig) *EditorSession {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 120 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}

	s := &EditorSession{
		id:          id,
		chapterID:   chapterID,
		writer:      writer,
		current:     content,
		lastSaved:   content,
		autoSave:    cfg.AutoSaveEnabled,
		minInterval: cfg.MinInterval,
		maxInterval: cfg.MaxInterval,
		saveTimeout: cfg.SaveTimeout,
		state:       StateClean,
		notify:      cfg.Notify,
		metrics:     cfg.Metrics,
		log:         logger.For("editor").With().Str("session", id).Str("chapter", chapterID).Logger(),
	}
	s.interval = s.clampInterval(cfg.Interval)
	return s
}

// ID returns the session identifier.
func (s *EditorSession) ID() string { return s.id }

// ChapterID returns the chapter this session edits.
func (s *EditorSession) ChapterID() string { return s.chapterID }

// SetContent replaces the current content, recomputes the dirty flag, and
// re-arms the autosave timer when enabled and dirty. Any pending timer is
// cleared first, so rapid edits defer the save rather than stacking saves.
func (s *EditorSession) SetContent(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.current = text
	s.recomputeDirtyLocked()

	if s.dirty {
		if s.state != StateSaving {
			s.state = StateDirtyWaiting
		}
		s.rearmTimerLocked()
	} else {
		s.stopTimerLocked()
		if s.state == StateDirtyWaiting || s.state == StateError {
			s.state = StateClean
		}
	}
}

// SetAutoSave toggles debounced saving. Disabling clears any pending timer;
// enabling schedules one when the session is dirty.
func (s *EditorSession) SetAutoSave(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.autoSave == enabled {
		return
	}
	s.autoSave = enabled
	s.rearmTimerLocked()
}

// SetInterval changes the debounce interval, clamped into the configured
// range. A pending timer is cancelled and rescheduled relative to now.
func (s *EditorSession) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.interval = s.clampInterval(d)
	s.rearmTimerLocked()
}

// ManualSave persists the current content immediately, tagged manual. It
// bypasses the unchanged-content skip: an explicit checkpoint is written
// even when nothing changed since the last save. A save already in flight
// is a conflict, not a queue.
func (s *EditorSession) ManualSave(ctx context.Context) (*models.Version, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.NewValidationError("editor session is closed", nil)
	}
	s.stopTimerLocked()
	content := s.current
	s.mu.Unlock()

	return s.saveVersion(ctx, content, utils.CountWords(content), models.VersionManual)
}

// CommitAIContent replaces the current content with text produced by an
// accepted AI suggestion and persists it immediately, tagged ai-assisted.
func (s *EditorSession) CommitAIContent(ctx context.Context, content string) (*models.Version, error) {
	s.SetContent(content)

	s.mu.Lock()
	if !s.dirty {
		// Nothing new to persist; the accepted text matches the last save.
		s.mu.Unlock()
		return nil, nil
	}
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.saveVersion(ctx, content, utils.CountWords(content), models.VersionAIAssisted)
}

// Snapshot is a read-only view of session state for status endpoints.
type EditorSessionSnapshot struct {
	SessionID   string       `json:"session_id"`
	ChapterID   string       `json:"chapter_id"`
	State       SessionState `json:"state"`
	Dirty       bool         `json:"dirty"`
	AutoSave    bool         `json:"auto_save"`
	Interval    string       `json:"interval"`
	WordCount   int          `json:"word_count"`
	LastSavedAt time.Time    `json:"last_saved_at,omitempty"`
}

// Snapshot returns the current session state.
func (s *EditorSession) Snapshot() EditorSessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return EditorSessionSnapshot{
		SessionID:   s.id,
		ChapterID:   s.chapterID,
		State:       s.state,
		Dirty:       s.dirty,
		AutoSave:    s.autoSave,
		Interval:    s.interval.String(),
		WordCount:   utils.CountWords(s.current),
		LastSavedAt: s.lastSavedAt,
	}
}

// State returns the current coordinator state.
func (s *EditorSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dirty reports whether unsaved edits exist.
func (s *EditorSession) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Content returns the current editor content.
func (s *EditorSession) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close tears the session down. Pending timers are cancelled; unsaved edits
// are discarded. Only committed versions survive the session.
func (s *EditorSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.stopTimerLocked()
}

// ---- internals ----

// recomputeDirtyLocked applies the dirty invariant:
// dirty == (current != lastSaved) && trim(current) != "".
func (s *EditorSession) recomputeDirtyLocked() {
	s.dirty = s.current != s.lastSaved && strings.TrimSpace(s.current) != ""
}

func (s *EditorSession) clampInterval(d time.Duration) time.Duration {
	if d < s.minInterval {
		return s.minInterval
	}
	if d > s.maxInterval {
		return s.maxInterval
	}
	return d
}

// rearmTimerLocked clears any pending timer and schedules a new one only
// when autosave is enabled and the session is dirty.
func (s *EditorSession) rearmTimerLocked() {
	s.stopTimerLocked()
	if !s.autoSave || !s.dirty || s.closed {
		return
	}
	s.timer = time.AfterFunc(s.interval, s.autoSaveFire)
}

func (s *EditorSession) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// autoSaveFire runs on the debounce timer goroutine. It captures the
// content present when the timer fires; saveVersion re-checks everything
// else under the lock.
func (s *EditorSession) autoSaveFire() {
	s.mu.Lock()
	if s.closed || !s.autoSave || !s.dirty {
		s.mu.Unlock()
		return
	}
	content := s.current
	s.mu.Unlock()

	if _, err := s.saveVersion(context.Background(), content, utils.CountWords(content), models.VersionAuto); err != nil {
		// Autosave failures stay silent for the user; the session remains
		// dirty and the next edit reschedules.
		s.log.Warn().Err(err).Msg("autosave failed")
	}
}

// saveVersion is the single persistence path. Non-manual saves of unchanged
// content are skipped. Only one save may be in flight: a second request is
// dropped for auto saves and rejected for manual ones, never queued.
func (s *EditorSession) saveVersion(ctx context.Context, content string, wordCount int, tag models.VersionTag) (*models.Version, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.NewValidationError("editor session is closed", nil)
	}
	if s.saving {
		s.metrics.Increment(metrics.SavesDropped)
		s.mu.Unlock()
		if tag == models.VersionManual {
			return nil, apperrors.NewConflictError("a save is already in progress", nil)
		}
		return nil, nil
	}
	if tag != models.VersionManual && content == s.lastSaved {
		s.mu.Unlock()
		return nil, nil
	}

	s.saving = true
	s.stopTimerLocked()
	s.state = StateSaving
	s.mu.Unlock()

	s.emit(SaveEvent{SessionID: s.id, ChapterID: s.chapterID, State: StateSaving, Tag: tag})

	saveCtx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()
	version, err := s.writer.CreateVersion(saveCtx, s.chapterID, content, wordCount, tag)

	s.mu.Lock()
	s.saving = false

	if err != nil {
		// A manual save of unchanged content can fail while nothing is
		// actually dirty; there is no lost work to flag in that case.
		s.recomputeDirtyLocked()
		if s.dirty {
			s.state = StateError
		} else {
			s.state = StateClean
		}
		s.metrics.Increment(metrics.SavesFailed)
		failedState := s.state
		s.mu.Unlock()

		s.emit(SaveEvent{SessionID: s.id, ChapterID: s.chapterID, State: failedState, Tag: tag, Error: err.Error()})
		return nil, err
	}

	s.lastSaved = content
	s.lastSavedAt = version.CreatedAt

	// Edits may have arrived while the save was in flight: the clean
	// transition only happens when content still matches what was written.
	s.recomputeDirtyLocked()
	if s.dirty {
		s.state = StateDirtyWaiting
		s.rearmTimerLocked()
	} else {
		s.state = StateClean
	}
	state := s.state
	savedAt := s.lastSavedAt
	s.mu.Unlock()

	switch tag {
	case models.VersionManual:
		s.metrics.Increment(metrics.SavesManual)
	case models.VersionAIAssisted:
		s.metrics.Increment(metrics.SavesAIAssisted)
	default:
		s.metrics.Increment(metrics.SavesAuto)
	}

	s.emit(SaveEvent{
		SessionID: s.id,
		ChapterID: s.chapterID,
		State:     state,
		Tag:       tag,
		Version:   version,
		SavedAt:   savedAt,
	})
	return version, nil
}

func (s *EditorSession) emit(event SaveEvent) {
	if s.notify != nil {
		s.notify(event)
	}
}
