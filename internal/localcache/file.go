package localcache

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileCache stores one file per key under Dir. Writes go through a temp file
// and a rename so a crash never leaves a half-written value behind.
type FileCache struct {
	Dir string

	mu sync.Mutex
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: strings.TrimSpace(dir)}
}

func (c *FileCache) Get(key string) (string, bool, error) {
	path, err := c.pathFor(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

func (c *FileCache) Set(key, value string) error {
	path, err := c.pathFor(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.Dir, 0o700); err != nil {
		return err
	}
	return writeFileAtomic(path, []byte(value), 0o600)
}

func (c *FileCache) Close() error {
	return nil
}

func (c *FileCache) pathFor(key string) (string, error) {
	key = strings.TrimSpace(key)
	if c == nil || c.Dir == "" || key == "" {
		return "", ErrInvalidInput
	}
	return filepath.Join(c.Dir, url.PathEscape(key)+".json"), nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
