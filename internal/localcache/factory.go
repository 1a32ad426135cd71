package localcache

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Factory builds a Cache from a DSN whose scheme it was registered under.
type Factory func(dsn string) (Cache, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory makes BuildFromDSN hand DSNs with the given scheme to
// factory. Registered factories take precedence over the built-in schemes.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildFromDSN opens the cache described by dsn:
//
//	memory://                  process-local map
//	file:///path/to/dir        one file per key (a bare path works too)
//	sqlite:///path/to/cache.db single SQLite table
//	redis://host:6379/0        redis strings
//
// A leading "~" in file and sqlite paths expands to the home directory.
func BuildFromDSN(dsn string) (Cache, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileCache(path), nil
	case "memory", "mem", "inmem":
		return NewMemoryCache(), nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteCache(path)
	case "redis", "rediss":
		return NewRedisCache(dsn)
	case "postgres", "postgresql", "mysql":
		return nil, fmt.Errorf("%w: cache backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported cache backend scheme: %s", scheme)
	}
}

// dsnPath extracts a filesystem path from file-like DSNs. "file://~/x"
// parses with "~" as host, so host and path are joined back together.
func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return expandHome(strings.TrimSpace(raw))
	}
	path := strings.TrimSpace(parsed.Host + parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return expandHome(path)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
