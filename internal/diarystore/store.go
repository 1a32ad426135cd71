// Package diarystore persists the per-section, per-date diary documents the
// HTTP API serves. Documents are opaque JSON; merging writes into them is the
// caller's job.
package diarystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Key identifies one stored document.
type Key struct {
	Owner   string
	Section string
	Date    string
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Owner) == "" || strings.TrimSpace(k.Section) == "" || strings.TrimSpace(k.Date) == "" {
		return fmt.Errorf("%w: owner, section and date are required", ErrInvalidInput)
	}
	return nil
}

func (k Key) String() string {
	return k.Owner + "/" + k.Section + "/" + k.Date
}

// UpdateFunc receives the stored document, or nil when there is none, and
// returns the document to store.
type UpdateFunc func(stored []byte) ([]byte, error)

type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	// Update runs fn and stores its result atomically with respect to other
	// updates of the same key. If fn fails nothing is written.
	Update(ctx context.Context, key Key, fn UpdateFunc) ([]byte, error)
	Close() error
}

type MemoryStore struct {
	mu   sync.Mutex
	docs map[Key][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[Key][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, key Key) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (s *MemoryStore) Update(_ context.Context, key Key, fn UpdateFunc) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored []byte
	if doc, ok := s.docs[key]; ok {
		stored = append([]byte(nil), doc...)
	}
	next, err := fn(stored)
	if err != nil {
		return nil, err
	}
	s.docs[key] = append([]byte(nil), next...)
	return next, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// FileStore keeps every document in one JSON file, rewritten on each update.
type FileStore struct {
	Path string

	mu     sync.Mutex
	loaded bool
	docs   map[string]json.RawMessage
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: strings.TrimSpace(path)}
}

func (s *FileStore) Get(_ context.Context, key Key) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	doc, ok := s.docs[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (s *FileStore) Update(_ context.Context, key Key, fn UpdateFunc) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	var stored []byte
	if doc, ok := s.docs[key.String()]; ok {
		stored = append([]byte(nil), doc...)
	}
	next, err := fn(stored)
	if err != nil {
		return nil, err
	}
	prev, had := s.docs[key.String()]
	s.docs[key.String()] = append(json.RawMessage(nil), next...)
	if err := s.saveLocked(); err != nil {
		if had {
			s.docs[key.String()] = prev
		} else {
			delete(s.docs, key.String())
		}
		return nil, err
	}
	return next, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	if s.Path == "" {
		return ErrInvalidInput
	}
	s.docs = map[string]json.RawMessage{}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &s.docs); err != nil {
		return fmt.Errorf("decode store file %s: %w", s.Path, err)
	}
	s.loaded = true
	return nil
}

func (s *FileStore) saveLocked() error {
	data, err := json.Marshal(s.docs)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
