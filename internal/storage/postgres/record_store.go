// Package postgres mirrors extracted records into Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/question-extractor/internal/extraction"
)

const defaultTable = "extracted_questions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for mirrored records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore implements extraction.Sink on a Postgres table. The payload is
// stored verbatim as jsonb next to a few indexed columns.
type RecordStore struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// NewRecordStore connects a pool using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the mirror table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	source_url TEXT NOT NULL,
	youtube_id TEXT,
	chapter_id INTEGER,
	payload JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Append inserts one record. Typed columns are filled best-effort; the
// payload is authoritative.
func (s *RecordStore) Append(ctx context.Context, record extraction.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if len(record.Payload) == 0 {
		return fmt.Errorf("record payload is required")
	}
	var (
		youtubeID *string
		chapterID *int
	)
	if q, err := record.Decode(); err == nil {
		if q.YouTubeID != "" {
			youtubeID = &q.YouTubeID
		}
		if q.ChapterID.Valid() {
			code := int(q.ChapterID)
			chapterID = &code
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	source_url,
	youtube_id,
	chapter_id,
	payload,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)

	args := []any{
		record.RunID,
		record.SourceURL,
		youtubeID,
		chapterID,
		[]byte(record.Payload),
		s.now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}
