// SPDX-License-Identifier: MIT

// Package store is the persistent metadata store for feeds and downloads,
// backed by a single-file SQLite database in WAL mode. Every status change
// goes through a named, transactional operation; there is no generic row
// update.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended pool configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// Open initializes a SQLite connection pool with mandatory PRAGMAs and
// bootstraps the schema. WAL mode and busy_timeout are set in the DSN so
// they apply to every connection in the pool.
func Open(dbPath string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate failed: %w", err)
	}
	return s, nil
}

// Store wraps the connection pool. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for read-only consumers (HTTP layer).
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS feeds (
	id                         TEXT PRIMARY KEY,
	is_enabled                 INTEGER NOT NULL DEFAULT 1,
	source_type                TEXT NOT NULL DEFAULT 'unknown',
	source_url                 TEXT NOT NULL DEFAULT '',
	resolved_url               TEXT NOT NULL DEFAULT '',
	last_successful_sync       TEXT,
	last_failed_sync           TEXT,
	consecutive_failures       INTEGER NOT NULL DEFAULT 0,
	since                      TEXT,
	keep_last                  INTEGER,
	title                      TEXT NOT NULL DEFAULT '',
	subtitle                   TEXT NOT NULL DEFAULT '',
	description                TEXT NOT NULL DEFAULT '',
	language                   TEXT NOT NULL DEFAULT '',
	author                     TEXT NOT NULL DEFAULT '',
	author_email               TEXT NOT NULL DEFAULT '',
	remote_image_url           TEXT NOT NULL DEFAULT '',
	image_ext                  TEXT NOT NULL DEFAULT '',
	category                   TEXT NOT NULL DEFAULT 'TV & Film',
	podcast_type               TEXT NOT NULL DEFAULT 'episodic',
	explicit                   TEXT NOT NULL DEFAULT 'no',
	transcript_lang            TEXT NOT NULL DEFAULT '',
	transcript_source_priority TEXT NOT NULL DEFAULT '',
	created_at                 TEXT NOT NULL,
	updated_at                 TEXT NOT NULL,
	last_rss_generation        TEXT,
	total_downloads            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS downloads (
	feed_id              TEXT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	id                   TEXT NOT NULL,
	source_url           TEXT NOT NULL DEFAULT '',
	title                TEXT NOT NULL,
	published            TEXT NOT NULL,
	ext                  TEXT NOT NULL DEFAULT '',
	mime_type            TEXT NOT NULL DEFAULT '',
	filesize             INTEGER NOT NULL DEFAULT 0,
	duration             INTEGER NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	retries              INTEGER NOT NULL DEFAULT 0,
	last_error           TEXT NOT NULL DEFAULT '',
	download_logs        TEXT NOT NULL DEFAULT '',
	discovered_at        TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	downloaded_at        TEXT,
	remote_thumbnail_url TEXT NOT NULL DEFAULT '',
	thumbnail_ext        TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	quality_info         TEXT NOT NULL DEFAULT '',
	playlist_index       INTEGER NOT NULL DEFAULT 0,
	transcript_ext       TEXT NOT NULL DEFAULT '',
	transcript_lang      TEXT NOT NULL DEFAULT '',
	transcript_source    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (feed_id, id)
);

CREATE INDEX IF NOT EXISTS idx_downloads_feed_status    ON downloads(feed_id, status);
CREATE INDEX IF NOT EXISTS idx_downloads_feed_published ON downloads(feed_id, published);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Time columns are stored as second-precision RFC3339 UTC strings so that
// lexicographic comparison in SQL matches chronological order. NULL means
// "unset" and maps to the zero time.

func timeToDB(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func timeFromDB(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
