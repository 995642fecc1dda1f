package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileCache keeps the settings cache in a JSON file. It is used when no
// database is configured.
type FileCache struct {
	path string
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// DefaultCachePath is settings.json under the user's config directory.
func DefaultCachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "varys", "settings.json"), nil
}

// Load returns nil, nil when the file does not exist yet.
func (c *FileCache) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings cache: %w", err)
	}
	return data, nil
}

// Save replaces the file atomically.
func (c *FileCache) Save(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("write settings cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write settings cache: %w", err)
	}
	return nil
}
