// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/podlift/podlift/internal/domain"
)

const feedColumns = `id, is_enabled, source_type, source_url, resolved_url,
	last_successful_sync, last_failed_sync, consecutive_failures,
	since, keep_last, title, subtitle, description, language, author,
	author_email, remote_image_url, image_ext, category, podcast_type,
	explicit, transcript_lang, transcript_source_priority,
	created_at, updated_at, last_rss_generation, total_downloads`

func scanFeed(row interface{ Scan(...any) error }) (*domain.Feed, error) {
	var f domain.Feed
	var lastOK, lastFail, since, createdAt, updatedAt, lastRSS sql.NullString
	var keepLast sql.NullInt64
	var sourceType, priority string
	err := row.Scan(
		&f.ID, &f.IsEnabled, &sourceType, &f.SourceURL, &f.ResolvedURL,
		&lastOK, &lastFail, &f.ConsecutiveFailures,
		&since, &keepLast, &f.Title, &f.Subtitle, &f.Description, &f.Language, &f.Author,
		&f.AuthorEmail, &f.RemoteImageURL, &f.ImageExt, &f.Category, &f.PodcastType,
		&f.Explicit, &f.TranscriptLang, &priority,
		&createdAt, &updatedAt, &lastRSS, &f.TotalDownloads,
	)
	if err != nil {
		return nil, err
	}
	f.SourceType = domain.SourceType(sourceType)
	if keepLast.Valid {
		n := int(keepLast.Int64)
		f.KeepLast = &n
	}
	f.LastSuccessfulSync = timeFromDB(lastOK)
	f.LastFailedSync = timeFromDB(lastFail)
	f.Since = timeFromDB(since)
	f.CreatedAt = timeFromDB(createdAt)
	f.UpdatedAt = timeFromDB(updatedAt)
	f.LastRSSGeneration = timeFromDB(lastRSS)
	f.TranscriptSourcePriority = parsePriority(priority)
	return &f, nil
}

func parsePriority(s string) []domain.TranscriptSource {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]domain.TranscriptSource, 0, len(parts))
	for _, p := range parts {
		src := domain.TranscriptSource(strings.TrimSpace(p))
		if src.IsValid() {
			out = append(out, src)
		}
	}
	return out
}

func formatPriority(p []domain.TranscriptSource) string {
	parts := make([]string, len(p))
	for i, src := range p {
		parts[i] = string(src)
	}
	return strings.Join(parts, ",")
}

// GetFeed returns one feed row.
func (s *Store) GetFeed(ctx context.Context, feedID string) (*domain.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, feedID)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s: %w", feedID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return f, nil
}

// ListFeeds returns all feed rows ordered by ID.
func (s *Store) ListFeeds(ctx context.Context) ([]*domain.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*domain.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return out, nil
}

// UpsertFeed inserts a new feed row or refreshes its configured fields
// (enabled flag, source URL, retention, presentation, transcript prefs).
// Sync accounting, discovery results and timestamps of existing rows are
// preserved.
func (s *Store) UpsertFeed(ctx context.Context, f *domain.Feed) error {
	now := timeToDB(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (
			id, is_enabled, source_type, source_url, since, keep_last,
			title, subtitle, description, language, author, author_email,
			category, podcast_type, explicit,
			transcript_lang, transcript_source_priority,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			is_enabled                 = excluded.is_enabled,
			source_url                 = excluded.source_url,
			since                      = excluded.since,
			keep_last                  = excluded.keep_last,
			title                      = excluded.title,
			subtitle                   = excluded.subtitle,
			description                = excluded.description,
			language                   = excluded.language,
			author                     = excluded.author,
			author_email               = excluded.author_email,
			category                   = excluded.category,
			podcast_type               = excluded.podcast_type,
			explicit                   = excluded.explicit,
			transcript_lang            = excluded.transcript_lang,
			transcript_source_priority = excluded.transcript_source_priority,
			updated_at                 = excluded.updated_at`,
		f.ID, f.IsEnabled, f.SourceType.String(), f.SourceURL, timeToDB(f.Since), keepLastToDB(f.KeepLast),
		f.Title, f.Subtitle, f.Description, f.Language, f.Author, f.AuthorEmail,
		f.Category, f.PodcastType, f.Explicit,
		f.TranscriptLang, formatPriority(f.TranscriptSourcePriority),
		now, now)
	if err != nil {
		return fmt.Errorf("upsert feed %s: %w", f.ID, err)
	}
	return nil
}

// SetFeedEnabled flips the enabled flag; used to disable feeds removed from
// configuration.
func (s *Store) SetFeedEnabled(ctx context.Context, feedID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET is_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, timeToDB(s.now()), feedID)
	if err != nil {
		return fmt.Errorf("set feed enabled %s: %w", feedID, err)
	}
	return s.requireFeed(res, feedID)
}

// SetFeedDiscovery records what discovery learned about the source: its
// classification, the URL discovery landed on, and upstream presentation
// metadata. Configured (non-empty) presentation fields are not overwritten.
func (s *Store) SetFeedDiscovery(ctx context.Context, feedID string, sourceType domain.SourceType, resolvedURL, suggestedTitle, suggestedAuthor, remoteImageURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET
			source_type      = ?,
			resolved_url     = ?,
			title            = CASE WHEN title = '' THEN ? ELSE title END,
			author           = CASE WHEN author = '' THEN ? ELSE author END,
			remote_image_url = ?,
			updated_at       = ?
		WHERE id = ?`,
		sourceType.String(), resolvedURL, suggestedTitle, suggestedAuthor,
		remoteImageURL, timeToDB(s.now()), feedID)
	if err != nil {
		return fmt.Errorf("set feed discovery %s: %w", feedID, err)
	}
	return s.requireFeed(res, feedID)
}

// SetFeedImageExt records the extension of locally hosted feed artwork.
func (s *Store) SetFeedImageExt(ctx context.Context, feedID, ext string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET image_ext = ?, updated_at = ? WHERE id = ?`,
		ext, timeToDB(s.now()), feedID)
	if err != nil {
		return fmt.Errorf("set feed image ext %s: %w", feedID, err)
	}
	return s.requireFeed(res, feedID)
}

// RecordSyncSuccess marks a successful discovery pass: stamps
// last_successful_sync and resets consecutive_failures.
func (s *Store) RecordSyncSuccess(ctx context.Context, feedID string) error {
	now := timeToDB(s.now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET last_successful_sync = ?, consecutive_failures = 0, updated_at = ? WHERE id = ?`,
		now, now, feedID)
	if err != nil {
		return fmt.Errorf("record sync success %s: %w", feedID, err)
	}
	return s.requireFeed(res, feedID)
}

// RecordSyncFailure marks a failed discovery pass: stamps last_failed_sync
// and increments consecutive_failures.
func (s *Store) RecordSyncFailure(ctx context.Context, feedID string) error {
	now := timeToDB(s.now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET last_failed_sync = ?, consecutive_failures = consecutive_failures + 1, updated_at = ? WHERE id = ?`,
		now, now, feedID)
	if err != nil {
		return fmt.Errorf("record sync failure %s: %w", feedID, err)
	}
	return s.requireFeed(res, feedID)
}

// SetLastRSSGeneration stamps the time the feed's RSS file was last
// published.
func (s *Store) SetLastRSSGeneration(ctx context.Context, feedID string) error {
	now := timeToDB(s.now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET last_rss_generation = ?, updated_at = ? WHERE id = ?`,
		now, now, feedID)
	if err != nil {
		return fmt.Errorf("set last rss generation %s: %w", feedID, err)
	}
	return s.requireFeed(res, feedID)
}

// RefreshTotalDownloads recomputes total_downloads from the downloads table
// and returns the new count.
func (s *Store) RefreshTotalDownloads(ctx context.Context, feedID string) (int, error) {
	n, err := s.CountNonArchived(ctx, feedID)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET total_downloads = ?, updated_at = ? WHERE id = ?`,
		n, timeToDB(s.now()), feedID)
	if err != nil {
		return 0, fmt.Errorf("refresh total downloads %s: %w", feedID, err)
	}
	if err := s.requireFeed(res, feedID); err != nil {
		return 0, err
	}
	return n, nil
}

func keepLastToDB(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *Store) requireFeed(res sql.Result, feedID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("feed %s: %w", feedID, ErrNotFound)
	}
	return nil
}
