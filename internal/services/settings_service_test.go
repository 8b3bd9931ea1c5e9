// internal/services/settings_service_test.go
package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/config"
	apperrors "github.com/storyloom/storyloom/internal/errors"
	"github.com/storyloom/storyloom/internal/storage"
)

type fakeReader map[string]string

func (r fakeReader) GetChapterContent(chapterID string) (string, error) {
	content, exists := r[chapterID]
	if !exists {
		return "", apperrors.NewNotFoundError("chapter not found", nil)
	}
	return content, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Autosave:    config.AutosaveConfig{Enabled: true, IntervalSeconds: 30},
		LLMProvider: "openai",
		LLMModel:    "gpt-4o",
	}
}

func TestSettingsDefaultFromConfig(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	svc, err := NewSettingsService(fs, testConfig(), nil)
	require.NoError(t, err)

	settings := svc.Get()
	assert.True(t, settings.AutosaveEnabled)
	assert.Equal(t, 30, settings.AutosaveIntervalSeconds)
	assert.Equal(t, "openai", settings.LLMProvider)
}

func TestSettingsUpdateClampsIntervalAndPersists(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFileStorage(dir)
	require.NoError(t, err)

	svc, err := NewSettingsService(fs, testConfig(), nil)
	require.NoError(t, err)

	tooShort := 1
	updated, err := svc.Update(SettingsUpdate{AutosaveIntervalSeconds: &tooShort})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.AutosaveIntervalSeconds)

	tooLong := 999
	updated, err = svc.Update(SettingsUpdate{AutosaveIntervalSeconds: &tooLong})
	require.NoError(t, err)
	assert.Equal(t, 120, updated.AutosaveIntervalSeconds)

	disabled := false
	_, err = svc.Update(SettingsUpdate{AutosaveEnabled: &disabled})
	require.NoError(t, err)
	fs.Close()

	fs2, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	t.Cleanup(func() { fs2.Close() })

	reloaded, err := NewSettingsService(fs2, testConfig(), nil)
	require.NoError(t, err)
	settings := reloaded.Get()
	assert.False(t, settings.AutosaveEnabled)
	assert.Equal(t, 120, settings.AutosaveIntervalSeconds)
}

func TestSettingsUpdatePushesAutosaveToEditorSessions(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	writer := &fakeWriter{}
	reader := fakeReader{"ch-1": "seed"}
	editor := NewEditorService(writer, reader, true, 30*time.Second, time.Second)
	t.Cleanup(editor.Shutdown)

	session, err := editor.OpenSession("ch-1")
	require.NoError(t, err)

	svc, err := NewSettingsService(fs, testConfig(), editor)
	require.NoError(t, err)

	disabled := false
	interval := 10
	_, err = svc.Update(SettingsUpdate{AutosaveEnabled: &disabled, AutosaveIntervalSeconds: &interval})
	require.NoError(t, err)

	snapshot := session.Snapshot()
	assert.False(t, snapshot.AutoSave)
	assert.Equal(t, (10 * time.Second).String(), snapshot.Interval)
}

func TestConfigReloadUpdatesAutosaveDefaults(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	writer := &fakeWriter{}
	reader := fakeReader{"ch-1": "seed"}
	editor := NewEditorService(writer, reader, true, 30*time.Second, time.Second)
	t.Cleanup(editor.Shutdown)

	session, err := editor.OpenSession("ch-1")
	require.NoError(t, err)

	svc, err := NewSettingsService(fs, testConfig(), editor)
	require.NoError(t, err)

	svc.ApplyConfigAutosave(false, 60)

	settings := svc.Get()
	assert.False(t, settings.AutosaveEnabled)
	assert.Equal(t, 60, settings.AutosaveIntervalSeconds)

	snapshot := session.Snapshot()
	assert.False(t, snapshot.AutoSave)
	assert.Equal(t, (60 * time.Second).String(), snapshot.Interval)
}

func TestConfigReloadIgnoredAfterUserSavesSettings(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	svc, err := NewSettingsService(fs, testConfig(), nil)
	require.NoError(t, err)

	interval := 45
	_, err = svc.Update(SettingsUpdate{AutosaveIntervalSeconds: &interval})
	require.NoError(t, err)

	svc.ApplyConfigAutosave(false, 90)

	settings := svc.Get()
	assert.True(t, settings.AutosaveEnabled)
	assert.Equal(t, 45, settings.AutosaveIntervalSeconds)
}

func TestSettingsModelChangeHook(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	svc, err := NewSettingsService(fs, testConfig(), nil)
	require.NoError(t, err)

	var gotProvider, gotModel string
	svc.SetModelChangeHook(func(provider, model string) error {
		gotProvider, gotModel = provider, model
		return nil
	})

	provider := "anthropic"
	model := "claude-sonnet"
	updated, err := svc.Update(SettingsUpdate{LLMProvider: &provider, LLMModel: &model})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", updated.LLMProvider)
	assert.Equal(t, "anthropic", gotProvider)
	assert.Equal(t, "claude-sonnet", gotModel)

	svc.SetModelChangeHook(func(provider, model string) error {
		return errors.New("no such provider")
	})
	bad := "unknown"
	_, err = svc.Update(SettingsUpdate{LLMProvider: &bad})
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, "anthropic", svc.Get().LLMProvider)
}
