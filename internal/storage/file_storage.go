// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/logger"
)

// FileStorage is the JSON-file persistence backend. Writes are atomic
// (tmp file + rename) and guarded by per-path RW locks; reads go through a
// small TTL cache.
type FileStorage struct {
	BaseDir string

	fileLocks sync.Map // full path -> *sync.RWMutex

	cache        map[string]*cacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type cacheEntry struct {
	data      []byte
	timestamp time.Time
}

// NewFileStorage creates a file storage rooted at baseDir.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	fs := &FileStorage{
		BaseDir:      baseDir,
		cache:        make(map[string]*cacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
		stopCleanup:  make(chan struct{}),
	}

	go fs.cacheCleanupLoop()

	return fs, nil
}

// Close stops the background cache cleanup.
func (fs *FileStorage) Close() {
	fs.stopOnce.Do(func() {
		close(fs.stopCleanup)
	})
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// SaveTextFile writes content to dirPath/filename atomically.
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			log := logger.For("storage")
			log.Warn().Err(removeErr).Str("path", tempPath).
				Msg("failed to clean up temp file after rename failure")
		}
		return fmt.Errorf("rename temp file: %w", err)
	}

	fs.invalidateCache(fullPath)

	return nil
}

// SaveJSONFile marshals data and writes it to dirPath/filename.
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	return fs.SaveTextFile(dirPath, filename, content)
}

// LoadTextFile reads dirPath/filename, consulting the cache first.
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	if data, ok := fs.fromCache(fullPath); ok {
		return data, nil
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	// Double-check after taking the lock; a concurrent reader may have
	// populated the cache.
	if data, ok := fs.fromCache(fullPath); ok {
		return data, nil
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	fs.updateCache(fullPath, content)

	return content, nil
}

// LoadJSONFile reads and unmarshals dirPath/filename into v.
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	content, err := fs.LoadTextFile(dirPath, filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}

	return nil
}

// FileExists reports whether dirPath/filename exists.
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)
	_, err := os.Stat(fullPath)
	return err == nil
}

// DirExists reports whether dirPath exists and is a directory.
func (fs *FileStorage) DirExists(dirPath string) bool {
	fullPath := filepath.Join(fs.BaseDir, dirPath)
	info, err := os.Stat(fullPath)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// DeleteFile removes dirPath/filename.
func (fs *FileStorage) DeleteFile(dirPath, filename string) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", fullPath)
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	fs.invalidateCache(fullPath)

	return nil
}

// DeleteDir removes dirPath and everything under it.
func (fs *FileStorage) DeleteDir(dirPath string) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("dir does not exist: %s", fullPath)
	}

	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("delete dir: %w", err)
	}

	fs.removeCacheEntriesWithPrefix(fullPath)

	return nil
}

// ListDirs lists the names of subdirectories of dirPath.
func (fs *FileStorage) ListDirs(dirPath string) ([]string, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}

	return dirs, nil
}

// ListFiles lists the names of regular files in dirPath.
func (fs *FileStorage) ListFiles(dirPath string) ([]string, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasSuffix(entry.Name(), ".tmp") {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}

// ---- cache management ----

func (fs *FileStorage) fromCache(fullPath string) ([]byte, bool) {
	fs.cacheMutex.RLock()
	defer fs.cacheMutex.RUnlock()

	if entry, exists := fs.cache[fullPath]; exists {
		if time.Since(entry.timestamp) < fs.cacheExpiry {
			return entry.data, true
		}
	}
	return nil, false
}

func (fs *FileStorage) updateCache(path string, data []byte) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &cacheEntry{
		data:      data,
		timestamp: time.Now(),
	}

	if len(fs.cache) > fs.maxCacheSize {
		fs.evictOldestLocked()
	}
}

func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()
	delete(fs.cache, path)
}

func (fs *FileStorage) removeCacheEntriesWithPrefix(prefix string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	for key := range fs.cache {
		if strings.HasPrefix(key, prefix) {
			delete(fs.cache, key)
		}
	}
}

func (fs *FileStorage) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range fs.cache {
		if oldestKey == "" || entry.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.timestamp
		}
	}

	if oldestKey != "" {
		delete(fs.cache, oldestKey)
	}
}

func (fs *FileStorage) cacheCleanupLoop() {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-fs.stopCleanup:
			return
		case <-ticker.C:
			fs.cleanupExpiredCache()
		}
	}
}

func (fs *FileStorage) cleanupExpiredCache() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range fs.cache {
		if now.Sub(entry.timestamp) > fs.cacheExpiry {
			delete(fs.cache, path)
		}
	}
}
