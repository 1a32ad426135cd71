package diarystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresTableName        = "diary_documents"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps one row per owner, section and date. The table is
// created on first use.
type PostgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT document FROM %s WHERE owner = $1 AND section = $2 AND entry_date = $3",
		postgresQuoteIdentifier(s.tableName))
	var doc string
	err := s.db.QueryRowContext(ctx, query, key.Owner, key.Section, key.Date).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func (s *PostgresStore) Update(ctx context.Context, key Key, fn UpdateFunc) ([]byte, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	table := postgresQuoteIdentifier(s.tableName)
	// Take the row lock up front so concurrent merges of the same document
	// serialize. The insert covers the first write for a key.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (owner, section, entry_date, document, updated_at)
		VALUES ($1, $2, $3, '', NOW())
		ON CONFLICT (owner, section, entry_date) DO NOTHING`, table),
		key.Owner, key.Section, key.Date); err != nil {
		return nil, err
	}
	var stored string
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT document FROM %s WHERE owner = $1 AND section = $2 AND entry_date = $3 FOR UPDATE", table),
		key.Owner, key.Section, key.Date).Scan(&stored); err != nil {
		return nil, err
	}
	var current []byte
	if stored != "" {
		current = []byte(stored)
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET document = $4, updated_at = NOW() WHERE owner = $1 AND section = $2 AND entry_date = $3", table),
		key.Owner, key.Section, key.Date, string(next)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				owner TEXT NOT NULL,
				section TEXT NOT NULL,
				entry_date TEXT NOT NULL,
				document TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (owner, section, entry_date)
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
