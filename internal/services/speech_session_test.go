// internal/services/speech_session_test.go
package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
)

type speechRecorder struct {
	mu       sync.Mutex
	results  []models.TranscriptResult
	commands []string
}

func (r *speechRecorder) onResult(res models.TranscriptResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *speechRecorder) onCommand(cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *speechRecorder) commandCount(cmd string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func newTestSpeechSession(rec *speechRecorder, continuous, supported bool) *SpeechSession {
	return NewSpeechSession("sp1", SpeechSessionConfig{
		Continuous:   continuous,
		Supported:    supported,
		RestartDelay: 20 * time.Millisecond,
		OnResult:     rec.onResult,
		Command:      rec.onCommand,
		Metrics:      metrics.NewCollector(),
	})
}

func TestStartStopLifecycle(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, false, true)
	defer s.Close()

	assert.False(t, s.IsListening())

	require.NoError(t, s.Start())
	assert.True(t, s.IsListening())
	assert.Equal(t, 1, rec.commandCount(SpeechCommandStart))

	// Starting an active session is a no-op.
	require.NoError(t, s.Start())
	assert.Equal(t, 1, rec.commandCount(SpeechCommandStart))

	s.Stop()
	assert.False(t, s.IsListening())
	assert.Equal(t, 1, rec.commandCount(SpeechCommandStop))

	// Stop is idempotent.
	s.Stop()
	assert.Equal(t, 1, rec.commandCount(SpeechCommandStop))
}

func TestUnsupportedCapabilityIsTerminalAndSurfacedOnce(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, true, false)
	defer s.Close()

	err := s.Start()
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupportedError(err))
	assert.False(t, s.IsListening())
	assert.NotEmpty(t, s.Err())

	// Later starts keep the error state but do not re-surface it.
	assert.NoError(t, s.Start())
	assert.False(t, s.IsListening())
	assert.Equal(t, 0, rec.commandCount(SpeechCommandStart))
}

func TestContinuousModeAutoRestarts(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, true, true)
	defer s.Close()

	require.NoError(t, s.Start())

	// The recognizer ends on its own; the session was not stopped, so it
	// must come back within the restart delay.
	s.HandleEnd()
	assert.False(t, s.IsListening(), "restart happens after the delay, not synchronously")

	waitFor(t, time.Second, s.IsListening)
	assert.Equal(t, 2, rec.commandCount(SpeechCommandStart))
}

func TestExplicitStopSuppressesAutoRestart(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, true, true)
	defer s.Close()

	require.NoError(t, s.Start())
	s.Stop()

	// End event arriving after Stop must leave the session idle.
	s.HandleEnd()
	time.Sleep(80 * time.Millisecond)
	assert.False(t, s.IsListening())
	assert.Equal(t, 1, rec.commandCount(SpeechCommandStart))
}

func TestOneShotModeDoesNotRestart(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, false, true)
	defer s.Close()

	require.NoError(t, s.Start())
	s.HandleEnd()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, s.IsListening())
	assert.Equal(t, 1, rec.commandCount(SpeechCommandStart))
}

func TestInterimAndFinalResultDispatch(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, true, true)
	defer s.Close()

	require.NoError(t, s.Start())

	s.HandleResult("once upon", false)
	assert.Equal(t, "once upon", s.PendingInterim())

	s.HandleResult("once upon a time", true)
	assert.Empty(t, s.PendingInterim(), "final result commits the preview buffer")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.results, 2)
	assert.False(t, rec.results[0].Final)
	assert.True(t, rec.results[1].Final)
	assert.Equal(t, "once upon a time", rec.results[1].Text)
}

func TestResultsIgnoredWhenIdle(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, true, true)
	defer s.Close()

	s.HandleResult("stray text", true)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.results)
}

func TestMidSessionErrorReturnsToIdleWithoutRestart(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, true, true)
	defer s.Close()

	require.NoError(t, s.Start())
	s.HandleError("permission denied")

	assert.False(t, s.IsListening())
	assert.Equal(t, "permission denied", s.Err())

	time.Sleep(80 * time.Millisecond)
	assert.False(t, s.IsListening(), "errors must not auto-restart")

	// A fresh manual start clears the error.
	require.NoError(t, s.Start())
	assert.Empty(t, s.Err())
	assert.True(t, s.IsListening())
}

func TestRestartPreservesPendingInterim(t *testing.T) {
	rec := &speechRecorder{}
	s := newTestSpeechSession(rec, true, true)
	defer s.Close()

	require.NoError(t, s.Start())
	s.HandleResult("half a sent", false)

	s.HandleEnd()
	waitFor(t, time.Second, s.IsListening)

	assert.Equal(t, "half a sent", s.PendingInterim(),
		"preview buffer survives the restart gap")
}
