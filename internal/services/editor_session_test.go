// internal/services/editor_session_test.go
package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/models"
)

type writerCall struct {
	chapterID string
	content   string
	wordCount int
	tag       models.VersionTag
}

// fakeWriter records CreateVersion calls; it can inject latency (gate) or
// failure (err).
type fakeWriter struct {
	mu    sync.Mutex
	calls []writerCall
	err   error
	gate  chan struct{} // when set, CreateVersion blocks until the gate closes
	seq   int
}

func (f *fakeWriter) CreateVersion(ctx context.Context, chapterID, content string, wordCount int, tag models.VersionTag) (*models.Version, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.seq++
	f.calls = append(f.calls, writerCall{chapterID, content, wordCount, tag})
	return &models.Version{
		ID:        "v" + string(rune('0'+f.seq)),
		ChapterID: chapterID,
		Content:   content,
		WordCount: wordCount,
		Tag:       tag,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeWriter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeWriter) lastCall() writerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeWriter) call(i int) writerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func newTestSession(w *fakeWriter, interval time.Duration) *EditorSession {
	return NewEditorSession("sess1", "ch1", "", w, EditorSessionConfig{
		AutoSaveEnabled: true,
		Interval:        interval,
		MinInterval:     time.Millisecond,
		MaxInterval:     time.Hour,
		SaveTimeout:     time.Second,
		Metrics:         metrics.NewCollector(),
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDirtyFlagInvariant(t *testing.T) {
	w := &fakeWriter{}
	s := NewEditorSession("s", "ch1", "start", w, EditorSessionConfig{
		AutoSaveEnabled: false,
		Metrics:         metrics.NewCollector(),
	})

	assert.False(t, s.Dirty(), "fresh session starts clean")

	s.SetContent("start")
	assert.False(t, s.Dirty(), "unchanged content is not dirty")

	s.SetContent("edited")
	assert.True(t, s.Dirty())

	s.SetContent("start")
	assert.False(t, s.Dirty(), "reverting to the saved snapshot clears dirty")

	s.SetContent("   ")
	assert.False(t, s.Dirty(), "whitespace-only content never counts as dirty")

	s.SetContent("edited again")
	assert.True(t, s.Dirty())
}

func TestDebounceCoalescesRapidEdits(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSession(w, 40*time.Millisecond)
	defer s.Close()

	// Edits arriving inside the quiet period reset the timer; only the
	// content present when the timer finally fires is saved.
	s.SetContent("one")
	time.Sleep(10 * time.Millisecond)
	s.SetContent("one two")
	time.Sleep(10 * time.Millisecond)
	s.SetContent("one two three")

	waitFor(t, time.Second, func() bool { return w.callCount() == 1 })
	time.Sleep(60 * time.Millisecond)

	require.Equal(t, 1, w.callCount(), "rapid edits must produce exactly one save")
	call := w.lastCall()
	assert.Equal(t, "one two three", call.content)
	assert.Equal(t, models.VersionAuto, call.tag)
	assert.Equal(t, 3, call.wordCount)
	assert.Equal(t, StateClean, s.State())
}

func TestManualSaveBypassesUnchangedSkip(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSession(w, time.Hour)
	defer s.Close()

	s.SetContent("checkpoint me")
	_, err := s.ManualSave(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, w.callCount())

	// Identical content: manual save still writes an explicit checkpoint.
	v, err := s.ManualSave(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, 2, w.callCount())
	assert.Equal(t, models.VersionManual, w.lastCall().tag)
}

func TestAutoSaveSkipsUnchangedContent(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSession(w, 20*time.Millisecond)
	defer s.Close()

	s.SetContent("text")
	waitFor(t, time.Second, func() bool { return w.callCount() == 1 })

	// Setting identical content does not mark dirty, so no timer is armed
	// and no second auto version appears.
	s.SetContent("text")
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, w.callCount())
	assert.Equal(t, StateClean, s.State())
}

func TestIntervalChangeReschedules(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSession(w, 50*time.Millisecond)
	defer s.Close()

	s.SetContent("draft")
	time.Sleep(20 * time.Millisecond)

	// Switch to a much longer interval before the original timer fires.
	s.SetInterval(200 * time.Millisecond)

	// Past the original deadline: nothing must have fired yet.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, w.callCount(), "save fired at the superseded interval")

	// The save arrives relative to the reconfiguration instead.
	waitFor(t, time.Second, func() bool { return w.callCount() == 1 })
}

func TestOverlappingSaveIsDropped(t *testing.T) {
	gate := make(chan struct{})
	w := &fakeWriter{gate: gate}
	s := newTestSession(w, 10*time.Millisecond)
	defer s.Close()

	s.SetContent("first")
	waitFor(t, time.Second, func() bool { return s.State() == StateSaving })

	// While the first save is in flight, new edits arrive and their timer
	// fires. The second request must be dropped, not queued.
	s.SetContent("first second")
	time.Sleep(40 * time.Millisecond)

	close(gate)
	waitFor(t, time.Second, func() bool { return w.callCount() >= 1 })
	assert.Equal(t, "first", w.call(0).content)

	// The post-save dirty re-check sees the newer edits and reschedules;
	// eventually the newer content is saved too.
	waitFor(t, time.Second, func() bool { return w.callCount() == 2 })
	assert.Equal(t, "first second", w.lastCall().content)
}

func TestManualSaveDuringInFlightSaveIsRejected(t *testing.T) {
	gate := make(chan struct{})
	w := &fakeWriter{gate: gate}
	s := newTestSession(w, 10*time.Millisecond)
	defer s.Close()

	s.SetContent("busy")
	waitFor(t, time.Second, func() bool { return s.State() == StateSaving })

	_, err := s.ManualSave(context.Background())
	assert.Error(t, err, "manual save must not queue behind an in-flight save")

	close(gate)
	waitFor(t, time.Second, func() bool { return s.State() == StateClean })
}

func TestFailedSaveLeavesSessionDirty(t *testing.T) {
	w := &fakeWriter{err: errors.New("store unavailable")}
	s := newTestSession(w, 10*time.Millisecond)
	defer s.Close()

	s.SetContent("unsaved work")
	waitFor(t, time.Second, func() bool { return s.State() == StateError })
	assert.True(t, s.Dirty(), "failure must not clear the dirty flag")

	// The passive retry: the next edit transitions back to dirty-waiting
	// and reschedules; once the store recovers the save lands.
	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()

	s.SetContent("unsaved work, more")
	waitFor(t, time.Second, func() bool { return w.callCount() == 1 })
	assert.Equal(t, "unsaved work, more", w.lastCall().content)
	assert.False(t, s.Dirty())
}

func TestManualSaveFailureIsSurfaced(t *testing.T) {
	w := &fakeWriter{err: errors.New("store unavailable")}
	s := newTestSession(w, time.Hour)
	defer s.Close()

	s.SetContent("important")
	_, err := s.ManualSave(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, s.State())
	assert.True(t, s.Dirty())
}

func TestFailedManualSaveOfUnchangedContentStaysClean(t *testing.T) {
	w := &fakeWriter{}
	s := NewEditorSession("s", "ch1", "saved text", w, EditorSessionConfig{
		AutoSaveEnabled: false,
		SaveTimeout:     time.Second,
		Metrics:         metrics.NewCollector(),
	})
	defer s.Close()

	w.mu.Lock()
	w.err = errors.New("store unavailable")
	w.mu.Unlock()

	// Nothing is dirty, so a failed checkpoint has no lost work to flag.
	_, err := s.ManualSave(context.Background())
	require.Error(t, err)
	assert.False(t, s.Dirty())
	assert.Equal(t, StateClean, s.State())
}

func TestCommitAIContentTagsVersion(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSession(w, time.Hour)
	defer s.Close()

	v, err := s.CommitAIContent(context.Background(), "generated continuation")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.VersionAIAssisted, w.lastCall().tag)
	assert.Equal(t, StateClean, s.State())

	// Accepting the same text again has nothing new to persist.
	v, err = s.CommitAIContent(context.Background(), "generated continuation")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 1, w.callCount())
}

func TestCloseCancelsPendingAutosave(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSession(w, 30*time.Millisecond)

	s.SetContent("about to navigate away")
	s.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, w.callCount(), "closed session must not save")
}

func TestSaveEventsReportLifecycle(t *testing.T) {
	w := &fakeWriter{}
	var mu sync.Mutex
	var states []SessionState

	s := NewEditorSession("s", "ch1", "", w, EditorSessionConfig{
		AutoSaveEnabled: true,
		Interval:        10 * time.Millisecond,
		MinInterval:     time.Millisecond,
		MaxInterval:     time.Hour,
		SaveTimeout:     time.Second,
		Metrics:         metrics.NewCollector(),
		Notify: func(e SaveEvent) {
			mu.Lock()
			states = append(states, e.State)
			mu.Unlock()
		},
	})
	defer s.Close()

	s.SetContent("hello")
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateSaving, states[0])
	assert.Equal(t, StateClean, states[1])
}
