// internal/services/speech_service.go
package services

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
)

// SpeechService owns the open speech sessions. Both dictation call sites
// (prompt dictation and the voice recording flow) go through the same
// session contract.
type SpeechService struct {
	mu       sync.RWMutex
	sessions map[string]*SpeechSession

	restartDelay time.Duration
	metrics      *metrics.Collector
	log          zerolog.Logger
}

// NewSpeechService creates the session registry.
func NewSpeechService(restartDelay time.Duration) *SpeechService {
	return &SpeechService{
		sessions:     make(map[string]*SpeechSession),
		restartDelay: restartDelay,
		metrics:      metrics.Get(),
		log:          logger.For("speech"),
	}
}

// OpenSession creates a speech session. Supported reflects the capability
// probe the client ran; continuous selects dictation mode.
func (s *SpeechService) OpenSession(continuous, supported bool, onResult func(models.TranscriptResult), command func(cmd string)) (*SpeechSession, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, apperrors.NewProcessingError("generate session id", err)
	}

	session := NewSpeechSession(id, SpeechSessionConfig{
		Continuous:   continuous,
		Supported:    supported,
		RestartDelay: s.restartDelay,
		OnResult:     onResult,
		Command:      command,
		Metrics:      s.metrics,
	})

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.log.Info().Str("session", id).Bool("continuous", continuous).
		Bool("supported", supported).Msg("speech session opened")
	return session, nil
}

// GetSession returns the open session with the given id.
func (s *SpeechService) GetSession(id string) (*SpeechSession, error) {
	s.mu.RLock()
	session, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return nil, apperrors.NewNotFoundError("speech session not found", nil)
	}
	return session, nil
}

// CloseSession tears down the session.
func (s *SpeechService) CloseSession(id string) error {
	s.mu.Lock()
	session, exists := s.sessions[id]
	if exists {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !exists {
		return apperrors.NewNotFoundError("speech session not found", nil)
	}

	session.Close()
	return nil
}

// Shutdown closes all open sessions.
func (s *SpeechService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*SpeechSession)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
