package diarystore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildFromDSN(t *testing.T) {
	store, err := BuildFromDSN("")
	if err != nil {
		t.Fatalf("build default store failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store for empty dsn, got %T", store)
	}

	if store, err = BuildFromDSN("memory://"); err != nil {
		t.Fatalf("build memory store failed: %v", err)
	} else if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "diary.json")
	store, err = BuildFromDSN("file://" + path)
	if err != nil {
		t.Fatalf("build file store failed: %v", err)
	}
	fileStore, ok := store.(*FileStore)
	if !ok || fileStore.Path != path {
		t.Fatalf("expected file store at %s, got %#v", path, store)
	}

	store, err = BuildFromDSN("postgres://localhost/diary?sslmode=disable")
	if err != nil {
		t.Fatalf("expected postgres store to be available, got %v", err)
	}
	if _, ok := store.(*PostgresStore); !ok {
		t.Fatalf("expected postgres store, got %T", store)
	}

	if _, err := BuildFromDSN("mysql://localhost/diary"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected not implemented error for mysql, got %v", err)
	}
	if _, err := BuildFromDSN("ftp://example"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestRegisterFactory(t *testing.T) {
	scheme := "storetestcustom"
	shared := NewMemoryStore()
	RegisterFactory(scheme, func(dsn string) (Store, error) {
		return shared, nil
	})
	store, err := BuildFromDSN(scheme + "://example")
	if err != nil {
		t.Fatalf("build store via registered factory failed: %v", err)
	}
	if store != Store(shared) {
		t.Fatalf("expected registered factory result, got %T", store)
	}
}
