package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/knowledge-engine/kwic/internal/session"
)

// FileStorage implements SessionStorage using one JSON file per session
type FileStorage struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{
		baseDir: baseDir,
	}, nil
}

// Save writes the session to a JSON file
func (fs *FileStorage) Save(_ context.Context, s *session.Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// write then rename so readers never see a partial file
	path := fs.path(s.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

// Get retrieves a session from disk
func (fs *FileStorage) Get(_ context.Context, id string) (*session.Session, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	s, err := fs.read(fs.path(id))
	if err != nil {
		return nil, err
	}
	if s.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (fs *FileStorage) Delete(_ context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (fs *FileStorage) Sweep(_ context.Context, now time.Time) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	files, err := fs.list()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range files {
		s, err := fs.read(path)
		if err != nil || !s.Expired(now) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (fs *FileStorage) Count(_ context.Context) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	files, err := fs.list()
	return len(files), err
}

func (fs *FileStorage) Name() string { return "file" }

// Close is a no-op for file storage
func (fs *FileStorage) Close() error {
	return nil
}

func (fs *FileStorage) read(path string) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (fs *FileStorage) list() ([]string, error) {
	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(fs.baseDir, e.Name()))
	}
	return files, nil
}

func (fs *FileStorage) path(id string) string {
	return filepath.Join(fs.baseDir, safeFilename(id))
}

// safeFilename maps a session token to a filename
func safeFilename(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if len(safe) > 100 {
		safe = safe[:100]
	}
	return safe + ".json"
}
