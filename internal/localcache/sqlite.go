package localcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteTableName        = "diary_cache"
	sqliteOperationTimeout = 5 * time.Second
)

// SQLiteCache keeps every key in a single table of a local SQLite file.
// The database is opened lazily on first use. Close may race with Get and
// Set; calls after Close fail with ErrClosed.
type SQLiteCache struct {
	path string

	mu      sync.Mutex
	initErr error
	db      *sql.DB
	closed  bool
}

func NewSQLiteCache(path string) (*SQLiteCache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteCache{path: path}, nil
}

func (c *SQLiteCache) Get(key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, ErrInvalidInput
	}
	db, err := c.conn()
	if err != nil {
		return "", false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()

	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM "+sqliteTableName+" WHERE cache_key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *SQLiteCache) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidInput
	}
	db, err := c.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+sqliteTableName+` (cache_key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (cache_key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, key, value)
	return err
}

func (c *SQLiteCache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// conn opens the database on first use and returns the shared handle.
func (c *SQLiteCache) conn() (*sql.DB, error) {
	if c == nil {
		return nil, ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.db != nil || c.initErr != nil {
		return c.db, c.initErr
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			c.initErr = fmt.Errorf("create cache directory: %w", err)
			return nil, c.initErr
		}
	}
	db, err := sql.Open("sqlite", c.path)
	if err != nil {
		c.initErr = fmt.Errorf("open sqlite cache: %w", err)
		return nil, c.initErr
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+sqliteTableName+` (
			cache_key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		_ = db.Close()
		c.initErr = fmt.Errorf("create cache table: %w", err)
		return nil, c.initErr
	}
	c.db = db
	return db, nil
}
