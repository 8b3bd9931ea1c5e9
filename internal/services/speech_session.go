// internal/services/speech_session.go
package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
)

// SpeechState names the speech session states.
type SpeechState string

const (
	SpeechIdle      SpeechState = "idle"
	SpeechListening SpeechState = "listening"
)

// Speech commands sent to the client, which owns the actual recognizer.
const (
	SpeechCommandStart = "start"
	SpeechCommandStop  = "stop"
)

// SpeechSessionConfig carries the knobs a speech session is built with.
type SpeechSessionConfig struct {
	// Continuous selects dictation mode: the session restarts listening
	// when the recognizer ends without an explicit Stop.
	Continuous bool

	// Supported is the capability flag the client reported at session
	// open. An unsupported session never starts; the condition is
	// surfaced once and is terminal.
	Supported bool

	// RestartDelay is the pause before an auto-restart.
	RestartDelay time.Duration

	// OnResult receives interim and final transcripts.
	OnResult func(models.TranscriptResult)

	// Command delivers start/stop instructions to the client recognizer.
	Command func(cmd string)

	Metrics *metrics.Collector
}

// SpeechSession wraps the browser recognizer into a start/stop contract
// with consistent semantics for all call sites. The browser reports
// lifecycle events (result/end/error); the session decides what they mean
// and when to restart.
//
// States: Idle -> (Start) -> Listening -> (Stop | end event) -> Idle. In
// continuous mode an end event without a preceding Stop re-enters
// Listening after RestartDelay instead of terminating.
type SpeechSession struct {
	id string

	mu            sync.Mutex
	continuous    bool
	supported     bool
	state         SpeechState
	stopRequested bool
	errMsg        string
	errSurfaced   bool
	lastInterim   string
	restartDelay  time.Duration
	restartTimer  *time.Timer
	closed        bool

	onResult func(models.TranscriptResult)
	command  func(cmd string)
	metrics  *metrics.Collector
	log      zerolog.Logger
}

// NewSpeechSession creates a session in the Idle state.
func NewSpeechSession(id string, cfg SpeechSessionConfig) *SpeechSession {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 300 * time.Millisecond
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}

	return &SpeechSession{
		id:           id,
		continuous:   cfg.Continuous,
		supported:    cfg.Supported,
		state:        SpeechIdle,
		restartDelay: cfg.RestartDelay,
		onResult:     cfg.OnResult,
		command:      cfg.Command,
		metrics:      cfg.Metrics,
		log:          logger.For("speech").With().Str("session", id).Logger(),
	}
}

// ID returns the session identifier.
func (s *SpeechSession) ID() string { return s.id }

// Start begins listening. Starting an unsupported session records a
// terminal error; starting an active session is a no-op. A successful
// start clears any previous error.
func (s *SpeechSession) Start() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return apperrors.NewValidationError("speech session is closed", nil)
	}

	if !s.supported {
		s.errMsg = "speech recognition is not available on this platform"
		err := error(nil)
		if !s.errSurfaced {
			// Surface the terminal condition once; later starts stay silent.
			s.errSurfaced = true
			err = apperrors.NewUnsupportedError(s.errMsg, nil)
		}
		s.mu.Unlock()
		return err
	}

	if s.state == SpeechListening {
		s.mu.Unlock()
		return nil
	}

	s.errMsg = ""
	s.stopRequested = false
	s.state = SpeechListening
	s.mu.Unlock()

	s.emit(SpeechCommandStart)
	return nil
}

// Stop ends listening. Safe to call when not listening; a Stop always
// suppresses any scheduled auto-restart.
func (s *SpeechSession) Stop() {
	s.mu.Lock()

	s.stopRequested = true
	s.cancelRestartLocked()

	wasListening := s.state == SpeechListening
	s.state = SpeechIdle
	s.mu.Unlock()

	if wasListening {
		s.emit(SpeechCommandStop)
	}
}

// HandleResult ingests one recognition result from the client. Final
// results are committed immediately; interim results replace the live
// preview buffer.
func (s *SpeechSession) HandleResult(text string, final bool) {
	s.mu.Lock()
	if s.closed || s.state != SpeechListening {
		s.mu.Unlock()
		return
	}
	if final {
		s.lastInterim = ""
	} else {
		s.lastInterim = text
	}
	onResult := s.onResult
	s.mu.Unlock()

	if onResult != nil {
		onResult(models.TranscriptResult{
			Text:      text,
			Final:     final,
			Timestamp: time.Now(),
		})
	}
}

// HandleEnd ingests the recognizer's end event. After an explicit Stop the
// session stays Idle. In continuous mode an unexpected end schedules an
// auto-restart; the pending interim buffer is kept so no preview text is
// duplicated or lost across the gap.
func (s *SpeechSession) HandleEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != SpeechListening {
		return
	}

	s.state = SpeechIdle

	if s.stopRequested {
		s.stopRequested = false
		return
	}

	if !s.continuous {
		return
	}

	s.cancelRestartLocked()
	s.restartTimer = time.AfterFunc(s.restartDelay, s.autoRestart)
}

// HandleError ingests a recognizer error (permission revoked, audio
// failure). The session returns to Idle and surfaces the message; it does
// not auto-restart; the user must start again.
func (s *SpeechSession) HandleError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.cancelRestartLocked()
	s.state = SpeechIdle
	s.errMsg = message
	s.metrics.Increment(metrics.SpeechErrors)
	s.log.Warn().Str("error", message).Msg("speech recognition error")
}

// IsListening reports whether the session is actively listening.
func (s *SpeechSession) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SpeechListening
}

// State returns the current state.
func (s *SpeechSession) State() SpeechState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the most recent error message, empty when none.
func (s *SpeechSession) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// PendingInterim returns the live preview text not yet finalized.
func (s *SpeechSession) PendingInterim() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInterim
}

// Close tears the session down and cancels any scheduled restart.
func (s *SpeechSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cancelRestartLocked()
	s.state = SpeechIdle
}

// ---- internals ----

func (s *SpeechSession) autoRestart() {
	s.mu.Lock()
	if s.closed || s.stopRequested || s.state == SpeechListening {
		s.mu.Unlock()
		return
	}
	s.state = SpeechListening
	s.metrics.Increment(metrics.SpeechRestarts)
	s.mu.Unlock()

	s.log.Debug().Msg("auto-restarting continuous recognition")
	s.emit(SpeechCommandStart)
}

func (s *SpeechSession) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func (s *SpeechSession) emit(cmd string) {
	if s.command != nil {
		s.command(cmd)
	}
}
