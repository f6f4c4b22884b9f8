// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/podlift/podlift/internal/domain"
)

const downloadColumns = `feed_id, id, source_url, title, published, ext, mime_type,
	filesize, duration, status, retries, last_error, download_logs,
	discovered_at, updated_at, downloaded_at, remote_thumbnail_url,
	thumbnail_ext, description, quality_info, playlist_index,
	transcript_ext, transcript_lang, transcript_source`

func scanDownload(row interface{ Scan(...any) error }) (*domain.Download, error) {
	var d domain.Download
	var published, discoveredAt, updatedAt sql.NullString
	var downloadedAt sql.NullString
	var status, source string
	err := row.Scan(
		&d.FeedID, &d.ID, &d.SourceURL, &d.Title, &published, &d.Ext, &d.MimeType,
		&d.Filesize, &d.Duration, &status, &d.Retries, &d.LastError, &d.DownloadLogs,
		&discoveredAt, &updatedAt, &downloadedAt, &d.RemoteThumbnailURL,
		&d.ThumbnailExt, &d.Description, &d.QualityInfo, &d.PlaylistIndex,
		&d.TranscriptExt, &d.TranscriptLang, &source,
	)
	if err != nil {
		return nil, err
	}
	d.Published = timeFromDB(published)
	d.DiscoveredAt = timeFromDB(discoveredAt)
	d.UpdatedAt = timeFromDB(updatedAt)
	d.DownloadedAt = timeFromDB(downloadedAt)
	d.Status = domain.Status(status)
	d.TranscriptSource = domain.TranscriptSource(source)
	return &d, nil
}

// GetDownload returns one download row.
func (s *Store) GetDownload(ctx context.Context, feedID, id string) (*domain.Download, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE feed_id = ? AND id = ?`, feedID, id)
	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download %s/%s: %w", feedID, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get download: %w", err)
	}
	return d, nil
}

// UpsertDownload inserts a new row or refreshes metadata fields of an
// existing one. It never changes status, retries or last_error of an
// existing row; for new rows the given Status is used. Returns whether the
// row was newly inserted.
func (s *Store) UpsertDownload(ctx context.Context, d *domain.Download) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert download %s: %w", d.Key(), err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timeToDB(s.now())
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM downloads WHERE feed_id = ? AND id = ?`, d.FeedID, d.ID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO downloads (
				feed_id, id, source_url, title, published, ext, mime_type,
				filesize, duration, status, discovered_at, updated_at,
				remote_thumbnail_url, description, quality_info, playlist_index
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.FeedID, d.ID, d.SourceURL, d.Title, timeToDB(d.Published), d.Ext, d.MimeType,
			d.Filesize, d.Duration, d.Status.String(), now, now,
			d.RemoteThumbnailURL, d.Description, d.QualityInfo, d.PlaylistIndex)
		if err != nil {
			return false, fmt.Errorf("insert download %s: %w", d.Key(), err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("insert download %s: %w", d.Key(), err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("upsert download %s: %w", d.Key(), err)
	}

	// Metadata-only refresh. Artifact fields of downloaded rows are owned by
	// MarkDownloaded and stay untouched; status, retries and last_error are
	// never modified here.
	_, err = tx.ExecContext(ctx, `
		UPDATE downloads SET
			source_url           = ?,
			title                = ?,
			published            = ?,
			ext                  = CASE WHEN status = 'downloaded' THEN ext ELSE ? END,
			mime_type            = CASE WHEN status = 'downloaded' THEN mime_type ELSE ? END,
			filesize             = CASE WHEN status = 'downloaded' THEN filesize ELSE ? END,
			duration             = CASE WHEN status = 'downloaded' THEN duration ELSE ? END,
			remote_thumbnail_url = ?,
			description          = ?,
			quality_info         = ?,
			playlist_index       = ?,
			updated_at           = ?
		WHERE feed_id = ? AND id = ?`,
		d.SourceURL, d.Title, timeToDB(d.Published), d.Ext, d.MimeType,
		d.Filesize, d.Duration, d.RemoteThumbnailURL, d.Description,
		d.QualityInfo, d.PlaylistIndex, now, d.FeedID, d.ID)
	if err != nil {
		return false, fmt.Errorf("update download %s: %w", d.Key(), err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("update download %s: %w", d.Key(), err)
	}
	return false, nil
}

// BumpRetries increments the retry counter and records the error message.
// When the new counter reaches maxErrors the row transitions to ERROR.
// Returns the resulting status.
func (s *Store) BumpRetries(ctx context.Context, feedID, id, errMsg string, maxErrors int) (domain.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("bump retries: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var retries int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT retries, status FROM downloads WHERE feed_id = ? AND id = ?`,
		feedID, id).Scan(&retries, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("download %s/%s: %w", feedID, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("bump retries: %w", err)
	}

	retries++
	newStatus := domain.Status(status)
	if retries >= maxErrors {
		newStatus = domain.StatusError
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE downloads SET retries = ?, status = ?, last_error = ?, updated_at = ?
		 WHERE feed_id = ? AND id = ?`,
		retries, newStatus.String(), errMsg, timeToDB(s.now()), feedID, id)
	if err != nil {
		return "", fmt.Errorf("bump retries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("bump retries: %w", err)
	}
	return newStatus, nil
}

// MarkDownloadedParams carries the refined artifact fields recorded when a
// download completes.
type MarkDownloadedParams struct {
	Ext              string
	MimeType         string
	Filesize         int64
	Duration         int64
	ThumbnailExt     string
	TranscriptExt    string
	TranscriptLang   string
	TranscriptSource domain.TranscriptSource
}

// MarkDownloaded transitions a QUEUED or UPCOMING row to DOWNLOADED, records
// the artifact fields and clears retry accounting.
func (s *Store) MarkDownloaded(ctx context.Context, feedID, id string, p MarkDownloadedParams) error {
	now := timeToDB(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET
			status = 'downloaded', downloaded_at = ?, updated_at = ?,
			ext = ?, mime_type = ?, filesize = ?, duration = ?,
			thumbnail_ext = ?, transcript_ext = ?, transcript_lang = ?, transcript_source = ?,
			retries = 0, last_error = ''
		WHERE feed_id = ? AND id = ? AND status IN ('queued', 'upcoming')`,
		now, now, p.Ext, p.MimeType, p.Filesize, p.Duration,
		p.ThumbnailExt, p.TranscriptExt, p.TranscriptLang, string(p.TranscriptSource),
		feedID, id)
	if err != nil {
		return fmt.Errorf("mark downloaded %s/%s: %w", feedID, id, err)
	}
	return s.requireTransition(ctx, res, feedID, id)
}

// MarkUpcomingAsQueued transitions an UPCOMING row to QUEUED.
func (s *Store) MarkUpcomingAsQueued(ctx context.Context, feedID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'queued', updated_at = ?
		 WHERE feed_id = ? AND id = ? AND status = 'upcoming'`,
		timeToDB(s.now()), feedID, id)
	if err != nil {
		return fmt.Errorf("mark queued %s/%s: %w", feedID, id, err)
	}
	return s.requireTransition(ctx, res, feedID, id)
}

// Archive transitions any non-ARCHIVED row to ARCHIVED. Archiving an already
// archived row is a no-op.
func (s *Store) Archive(ctx context.Context, feedID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'archived', updated_at = ?
		 WHERE feed_id = ? AND id = ? AND status != 'archived'`,
		timeToDB(s.now()), feedID, id)
	if err != nil {
		return fmt.Errorf("archive %s/%s: %w", feedID, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Either already archived (fine) or missing (error).
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM downloads WHERE feed_id = ? AND id = ?`, feedID, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("download %s/%s: %w", feedID, id, ErrNotFound)
		}
		return err
	}
	return nil
}

// RequeueDownload resets one row from fromStatus back to QUEUED with cleared
// retry accounting.
func (s *Store) RequeueDownload(ctx context.Context, feedID, id string, from domain.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'queued', retries = 0, last_error = '', updated_at = ?
		 WHERE feed_id = ? AND id = ? AND status = ?`,
		timeToDB(s.now()), feedID, id, from.String())
	if err != nil {
		return fmt.Errorf("requeue %s/%s: %w", feedID, id, err)
	}
	return s.requireTransition(ctx, res, feedID, id)
}

// RequeueAll resets every row of the feed currently in fromStatus back to
// QUEUED. Returns the number of rows requeued.
func (s *Store) RequeueAll(ctx context.Context, feedID string, from domain.Status) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'queued', retries = 0, last_error = '', updated_at = ?
		 WHERE feed_id = ? AND status = ?`,
		timeToDB(s.now()), feedID, from.String())
	if err != nil {
		return 0, fmt.Errorf("requeue all %s: %w", feedID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue all %s: %w", feedID, err)
	}
	return int(n), nil
}

// SetThumbnailExt records the extension of a freshly stored thumbnail, or
// clears it when ext is empty.
func (s *Store) SetThumbnailExt(ctx context.Context, feedID, id, ext string) error {
	return s.setFields(ctx, feedID, id, `thumbnail_ext = ?`, ext)
}

// SetTranscriptFields records the transcript artifact metadata, or clears it
// when ext is empty.
func (s *Store) SetTranscriptFields(ctx context.Context, feedID, id, ext, lang string, source domain.TranscriptSource) error {
	if ext == "" {
		lang, source = "", ""
	}
	return s.setFields(ctx, feedID, id,
		`transcript_ext = ?, transcript_lang = ?, transcript_source = ?`,
		ext, lang, string(source))
}

// SetDownloadLogs stores the captured extractor output of the most recent
// download attempt.
func (s *Store) SetDownloadLogs(ctx context.Context, feedID, id, logs string) error {
	return s.setFields(ctx, feedID, id, `download_logs = ?`, logs)
}

func (s *Store) setFields(ctx context.Context, feedID, id, setClause string, args ...any) error {
	args = append(args, timeToDB(s.now()), feedID, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET `+setClause+`, updated_at = ? WHERE feed_id = ? AND id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update download %s/%s: %w", feedID, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("download %s/%s: %w", feedID, id, ErrNotFound)
	}
	return nil
}

// requireTransition maps a zero-row UPDATE to ErrNotFound or
// ErrIllegalTransition depending on whether the row exists.
func (s *Store) requireTransition(ctx context.Context, res sql.Result, feedID, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM downloads WHERE feed_id = ? AND id = ?`, feedID, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("download %s/%s: %w", feedID, id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("download %s/%s in status %s: %w", feedID, id, status, ErrIllegalTransition)
}

// ListByStatus returns a bounded batch of the feed's downloads in the given
// status, ordered by published ascending (oldest first).
func (s *Store) ListByStatus(ctx context.Context, feedID string, status domain.Status, limit, offset int) ([]*domain.Download, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads
		 WHERE feed_id = ? AND status = ?
		 ORDER BY published ASC, id ASC LIMIT ? OFFSET ?`,
		feedID, status.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return collectDownloads(rows)
}

// ListCandidatesByKeepLast returns the feed's active rows whose rank by
// published descending exceeds keepLast. keepLast = 0 selects every active
// row.
func (s *Store) ListCandidatesByKeepLast(ctx context.Context, feedID string, keepLast int) ([]*domain.Download, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads
		 WHERE feed_id = ? AND status IN (`+activeStatusList+`)
		 ORDER BY published DESC, id DESC LIMIT -1 OFFSET ?`,
		feedID, keepLast)
	if err != nil {
		return nil, fmt.Errorf("list keep_last candidates: %w", err)
	}
	return collectDownloads(rows)
}

// ListCandidatesByBeforeDate returns the feed's active rows published
// strictly before the given date.
func (s *Store) ListCandidatesByBeforeDate(ctx context.Context, feedID string, before time.Time) ([]*domain.Download, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads
		 WHERE feed_id = ? AND status IN (`+activeStatusList+`) AND published < ?
		 ORDER BY published ASC, id ASC`,
		feedID, timeToDB(before))
	if err != nil {
		return nil, fmt.Errorf("list before-date candidates: %w", err)
	}
	return collectDownloads(rows)
}

// CountNonArchived returns the number of the feed's downloads whose status
// is not ARCHIVED.
func (s *Store) CountNonArchived(ctx context.Context, feedID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downloads WHERE feed_id = ? AND status != 'archived'`,
		feedID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count non-archived: %w", err)
	}
	return n, nil
}

var activeStatusList = func() string {
	quoted := make([]string, len(domain.ActiveStatuses))
	for i, st := range domain.ActiveStatuses {
		quoted[i] = "'" + st.String() + "'"
	}
	return strings.Join(quoted, ", ")
}()

func collectDownloads(rows *sql.Rows) ([]*domain.Download, error) {
	defer func() { _ = rows.Close() }()
	var out []*domain.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return out, nil
}
