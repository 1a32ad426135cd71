package diarystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresStoreOpenFailure(t *testing.T) {
	store, err := NewPostgresStore("postgres://localhost/diary")
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	boom := errors.New("driver unavailable")
	store.openDB = func(string, string) (*sql.DB, error) { return nil, boom }

	if _, err := store.Get(context.Background(), testKey); !errors.Is(err, boom) {
		t.Fatalf("expected open failure, got %v", err)
	}
	if _, err := store.Update(context.Background(), testKey, appendUpdate("x")); !errors.Is(err, boom) {
		t.Fatalf("expected cached open failure, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close without db: %v", err)
	}
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresStore("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	if got := postgresQuoteIdentifier(`diary"docs`); got != `"diary""docs"` {
		t.Fatalf("unexpected quoting %s", got)
	}
	if got := postgresQuoteIdentifier(" "); got != `""` {
		t.Fatalf("unexpected quoting for blank identifier %s", got)
	}
}

func TestPostgresIntegrationStoreRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	store.tableName = postgresIntegrationTableName("diary_documents_it")
	t.Cleanup(func() {
		_ = store.Close()
		postgresIntegrationDropTable(t, dsn, store.tableName)
	})
	exerciseStore(t, store)
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("DIARYSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set DIARYSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
