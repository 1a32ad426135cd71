// Package localcache is the durable key-value store the sync engine keeps its
// last known Record in. Values are opaque strings; a Set always replaces the
// whole value for its key.
package localcache

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrClosed         = errors.New("cache closed")
)

// Cache is a synchronous string store. Get reports a missing key with
// ok == false and a nil error.
type Cache interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Close() error
}

type MemoryCache struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{values: map[string]string{}}
}

func (c *MemoryCache) Get(key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, ErrInvalidInput
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", false, ErrClosed
	}
	value, ok := c.values[key]
	return value, ok, nil
}

func (c *MemoryCache) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.values[key] = value
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Len returns the number of stored keys.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
