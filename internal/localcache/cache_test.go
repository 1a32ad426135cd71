package localcache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecord = `{"sleep":{"2024-05-01":{"hoursSlept":"7"}},"emotions":{},"urges":{},"skills":{},"events":{},"medications":{}}`

// exerciseCache runs the contract every backend must satisfy.
func exerciseCache(t *testing.T, cache Cache) {
	t.Helper()

	_, ok, err := cache.Get("diaryCard-2024-05-01")
	require.NoError(t, err)
	assert.False(t, ok, "missing key must report ok=false")

	require.NoError(t, cache.Set("diaryCard-2024-05-01", sampleRecord))
	value, ok, err := cache.Get("diaryCard-2024-05-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleRecord, value)

	require.NoError(t, cache.Set("diaryCard-2024-05-01", "{}"))
	value, _, err = cache.Get("diaryCard-2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "{}", value, "set replaces the whole value")

	require.NoError(t, cache.Set("diaryCard-2024-05-08", sampleRecord))
	value, _, err = cache.Get("diaryCard-2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "{}", value, "keys are independent")

	assert.ErrorIs(t, cache.Set("  ", "x"), ErrInvalidInput)
	_, _, err = cache.Get("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache()
	exerciseCache(t, cache)
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, cache.Close())
	assert.ErrorIs(t, cache.Set("k", "v"), ErrClosed)
}

func TestFileCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cache := NewFileCache(dir)
	exerciseCache(t, cache)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{"diaryCard-2024-05-01.json", "diaryCard-2024-05-08.json"}, names,
		"atomic writes must not leave temp files behind")
}

func TestFileCacheEscapesKeys(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir)
	require.NoError(t, cache.Set("../escape", "v"))

	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.json"))
	assert.True(t, os.IsNotExist(err), "key must stay inside the cache directory")
	value, ok, err := cache.Get("../escape")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestSQLiteCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	cache, err := NewSQLiteCache(path)
	require.NoError(t, err)
	exerciseCache(t, cache)

	require.NoError(t, cache.Close())
	reopened, err := NewSQLiteCache(path)
	require.NoError(t, err)
	defer reopened.Close()
	value, ok, err := reopened.Get("diaryCard-2024-05-08")
	require.NoError(t, err)
	require.True(t, ok, "values survive reopening the database")
	assert.Equal(t, sampleRecord, value)
}

func TestSQLiteCacheCloseDuringUse(t *testing.T) {
	cache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, cache.Set("diaryCard-2024-05-01", sampleRecord))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				// Results depend on ordering against Close; only data races matter.
				_ = cache.Set("diaryCard-2024-05-01", sampleRecord)
				_, _, _ = cache.Get("diaryCard-2024-05-01")
			}
		}()
	}
	require.NoError(t, cache.Close())
	wg.Wait()

	_, _, err = cache.Get("diaryCard-2024-05-01")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, cache.Set("diaryCard-2024-05-01", "{}"), ErrClosed)
	assert.NoError(t, cache.Close(), "closing twice is harmless")
}

func TestSQLiteCacheCloseBeforeUse(t *testing.T) {
	cache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "unused.db"))
	require.NoError(t, err)
	require.NoError(t, cache.Close())
	_, _, err = cache.Get("diaryCard-2024-05-01")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisCache(t *testing.T) {
	server := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://" + server.Addr())
	require.NoError(t, err)
	defer cache.Close()
	exerciseCache(t, cache)

	raw, err := server.Get(redisKeyPrefix + "diaryCard-2024-05-08")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord, raw)
}

func TestRedisCacheUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := NewRedisCache("redis://" + addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}
