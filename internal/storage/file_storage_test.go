// internal/storage/file_storage_test.go
package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(fs.Close)
	return fs
}

func TestSaveLoadJSONFile(t *testing.T) {
	fs := newTestStorage(t)

	in := sample{Name: "alpha", Count: 3}
	require.NoError(t, fs.SaveJSONFile("stories/s1", "story.json", in))

	var out sample
	require.NoError(t, fs.LoadJSONFile("stories/s1", "story.json", &out))
	assert.Equal(t, in, out)
}

func TestSaveOverwriteInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveTextFile("d", "f.txt", []byte("one")))
	data, err := fs.LoadTextFile("d", "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	// A second write must not serve the stale cached content.
	require.NoError(t, fs.SaveTextFile("d", "f.txt", []byte("two")))
	data, err = fs.LoadTextFile("d", "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestFileAndDirExistence(t *testing.T) {
	fs := newTestStorage(t)

	assert.False(t, fs.FileExists("d", "f.json"))
	assert.False(t, fs.DirExists("d"))

	require.NoError(t, fs.SaveJSONFile("d", "f.json", sample{}))
	assert.True(t, fs.FileExists("d", "f.json"))
	assert.True(t, fs.DirExists("d"))
}

func TestDeleteFile(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveTextFile("d", "f.txt", []byte("x")))
	require.NoError(t, fs.DeleteFile("d", "f.txt"))
	assert.False(t, fs.FileExists("d", "f.txt"))

	assert.Error(t, fs.DeleteFile("d", "f.txt"))
}

func TestDeleteDirRemovesContents(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveTextFile("d/sub", "a.txt", []byte("a")))
	require.NoError(t, fs.SaveTextFile("d", "b.txt", []byte("b")))

	require.NoError(t, fs.DeleteDir("d"))
	assert.False(t, fs.DirExists("d"))

	// Cache entries under the deleted prefix must not resurrect content.
	_, err := fs.LoadTextFile("d", "b.txt")
	assert.Error(t, err)
}

func TestListDirsAndFiles(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveTextFile("root/a", "x.json", []byte("{}")))
	require.NoError(t, fs.SaveTextFile("root/b", "y.json", []byte("{}")))
	require.NoError(t, fs.SaveTextFile("root", "top.json", []byte("{}")))

	dirs, err := fs.ListDirs("root")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, dirs)

	files, err := fs.ListFiles("root")
	require.NoError(t, err)
	assert.Equal(t, []string{"top.json"}, files)
}
