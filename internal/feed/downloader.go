// SPDX-License-Identifier: MIT

package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/files"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/metrics"
	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/store"
	"github.com/podlift/podlift/internal/ytdlp"
)

// Artifact identifies one downloadable artifact kind for selective
// downloads.
type Artifact uint8

const (
	ArtifactMedia Artifact = 1 << iota
	ArtifactThumbnail
	ArtifactTranscript
)

// Has reports whether the mask includes the given artifact.
func (a Artifact) Has(kind Artifact) bool { return a&kind != 0 }

const downloadBatchSize = 50

// Downloader drains a feed's QUEUED set: it produces artifacts on disk and
// drives the QUEUED -> DOWNLOADED / ERROR transitions.
type Downloader struct {
	store     *store.Store
	extractor Extractor
	files     *files.Store
	paths     *paths.Manager
}

// NewDownloader wires the download phase.
func NewDownloader(st *store.Store, ex Extractor, fs *files.Store, pm *paths.Manager) *Downloader {
	return &Downloader{store: st, extractor: ex, files: fs, paths: pm}
}

// Run processes the feed's queued downloads oldest-first. Failures never
// short-circuit the batch; each item completes (success, retry or archive)
// before the next begins. Returns the number of successful downloads.
func (dl *Downloader) Run(ctx context.Context, feed *domain.Feed, maxErrors int) (int, error) {
	succeeded := 0
	// Rows that fail below the retry ceiling stay QUEUED; advancing the
	// offset past them keeps the paging loop terminating.
	stillQueued := 0
	for {
		if err := ctx.Err(); err != nil {
			return succeeded, err
		}
		batch, err := dl.store.ListByStatus(ctx, feed.ID, domain.StatusQueued, downloadBatchSize, stillQueued)
		if err != nil {
			metrics.IncPhaseFailure("download")
			return succeeded, fmt.Errorf("list queued: %w", err)
		}
		if len(batch) == 0 {
			return succeeded, nil
		}
		for _, d := range batch {
			if err := ctx.Err(); err != nil {
				return succeeded, err
			}
			switch dl.processOne(ctx, feed, d, maxErrors) {
			case outcomeDownloaded:
				succeeded++
			case outcomeRetry:
				stillQueued++
			case outcomeArchived:
			}
		}
	}
}

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeRetry
	outcomeArchived
)

// processOne attempts a single item. The media file is staged under the
// feed's tmp directory and only renamed to its canonical path when
// complete, so readers never observe partial media.
func (dl *Downloader) processOne(ctx context.Context, feed *domain.Feed, d *domain.Download, maxErrors int) outcome {
	logger := log.WithComponentFromContext(ctx, "downloader")

	tmpDir, err := dl.paths.TmpDirFor(feed.ID)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldFeedID, feed.ID).Msg("allocate tmp dir")
		return dl.recordFailure(ctx, feed, d, err, maxErrors)
	}
	defer cleanupItemFiles(tmpDir, d.ID)

	res, err := dl.extractor.DownloadMedia(ctx, d, tmpDir)
	if res != nil && res.Logs != "" {
		if logErr := dl.store.SetDownloadLogs(ctx, feed.ID, d.ID, res.Logs); logErr != nil {
			logger.Warn().Err(logErr).Str(log.FieldDownloadID, d.ID).Msg("store download logs")
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-download: leave the row QUEUED untouched.
			return outcomeRetry
		}
		if errors.Is(err, ytdlp.ErrItemFiltered) {
			logger.Info().
				Str(log.FieldEvent, "download.filtered").
				Str(log.FieldFeedID, feed.ID).
				Str(log.FieldDownloadID, d.ID).
				Msg("post has no matching media, archiving")
			if aerr := dl.store.Archive(ctx, feed.ID, d.ID); aerr != nil {
				logger.Error().Err(aerr).Str(log.FieldDownloadID, d.ID).Msg("archive filtered item")
			}
			metrics.IncDownloadOutcome("filtered")
			return outcomeArchived
		}
		return dl.recordFailure(ctx, feed, d, err, maxErrors)
	}

	params := store.MarkDownloadedParams{
		Ext:      res.Ext,
		MimeType: res.MimeType,
		Filesize: res.Filesize,
		Duration: res.Duration,
	}

	// Thumbnail and transcript are best-effort; their absence never fails
	// the item. They stay staged in tmp until the media rename succeeds, so
	// a failed item never leaves artifact files at canonical paths.
	thumbSrc, thumbExt := dl.stageThumbnail(ctx, d, tmpDir)
	tr := dl.stageTranscript(ctx, feed, d, tmpDir)

	target, err := dl.paths.MediaPath(feed.ID, d.ID, res.Ext)
	if err != nil {
		return dl.recordFailure(ctx, feed, d, err, maxErrors)
	}
	if err := dl.files.MoveIntoPlace(res.Path, target); err != nil {
		return dl.recordFailure(ctx, feed, d, err, maxErrors)
	}

	params.ThumbnailExt = dl.installThumbnail(ctx, feed.ID, d, thumbSrc, thumbExt)
	params.TranscriptExt, params.TranscriptLang, params.TranscriptSource = dl.installTranscript(ctx, feed.ID, d, tr)

	if err := dl.store.MarkDownloaded(ctx, feed.ID, d.ID, params); err != nil {
		logger.Error().Err(err).
			Str(log.FieldFeedID, feed.ID).
			Str(log.FieldDownloadID, d.ID).
			Msg("mark downloaded")
		// The row is still QUEUED; the installed files must go so disk
		// state keeps matching it.
		dl.rollbackInstall(feed, d, target, params)
		return outcomeRetry
	}

	logger.Info().
		Str(log.FieldEvent, "download.complete").
		Str(log.FieldFeedID, feed.ID).
		Str(log.FieldDownloadID, d.ID).
		Str("ext", res.Ext).
		Int64("filesize", res.Filesize).
		Msg("item downloaded")
	metrics.IncDownloadOutcome("success")
	return outcomeDownloaded
}

func (dl *Downloader) recordFailure(ctx context.Context, feed *domain.Feed, d *domain.Download, cause error, maxErrors int) outcome {
	logger := log.WithComponentFromContext(ctx, "downloader")

	newStatus, err := dl.store.BumpRetries(ctx, feed.ID, d.ID, cause.Error(), maxErrors)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldFeedID, feed.ID).
			Str(log.FieldDownloadID, d.ID).
			Msg("bump retries")
		return outcomeRetry
	}
	logger.Warn().Err(cause).
		Str(log.FieldEvent, "download.failed").
		Str(log.FieldFeedID, feed.ID).
		Str(log.FieldDownloadID, d.ID).
		Str(log.FieldStatus, newStatus.String()).
		Msg("download attempt failed")
	metrics.IncDownloadOutcome("failure")
	if newStatus == domain.StatusError {
		return outcomeArchived // terminal for this run; no longer queued
	}
	return outcomeRetry
}

// stageThumbnail downloads the item thumbnail into tmpDir without touching
// its canonical location. Returns the staged path and extension, both empty
// when unavailable.
func (dl *Downloader) stageThumbnail(ctx context.Context, d *domain.Download, tmpDir string) (string, string) {
	src, err := dl.extractor.DownloadMediaThumbnail(ctx, d, tmpDir)
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "downloader")
		logger.Warn().Err(err).Str(log.FieldDownloadID, d.ID).Msg("thumbnail download failed")
		return "", ""
	}
	if src == "" {
		return "", ""
	}
	return src, extOf(src)
}

// installThumbnail renames a staged thumbnail to its canonical path.
// Returns the installed extension, or empty when there is nothing to
// install or the rename failed.
func (dl *Downloader) installThumbnail(ctx context.Context, feedID string, d *domain.Download, src, ext string) string {
	if src == "" {
		return ""
	}
	target, err := dl.paths.ThumbnailPath(feedID, d.ID, ext)
	if err == nil {
		err = dl.files.MoveIntoPlace(src, target)
	}
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "downloader")
		logger.Warn().Err(err).Str(log.FieldDownloadID, d.ID).Msg("thumbnail install failed")
		return ""
	}
	return ext
}

// fetchThumbnail stages and installs the item thumbnail in one step, for
// callers outside the download sequencing (artifact refresh).
func (dl *Downloader) fetchThumbnail(ctx context.Context, feed *domain.Feed, d *domain.Download, tmpDir string) string {
	src, ext := dl.stageThumbnail(ctx, d, tmpDir)
	return dl.installThumbnail(ctx, feed.ID, d, src, ext)
}

// stagedTranscript carries a transcript file waiting in tmp.
type stagedTranscript struct {
	src    string
	ext    string
	lang   string
	source domain.TranscriptSource
}

// stageTranscript walks the feed's source priority list and stages the first
// transcript found. The zero value means no track was available.
func (dl *Downloader) stageTranscript(ctx context.Context, feed *domain.Feed, d *domain.Download, tmpDir string) stagedTranscript {
	if feed.TranscriptLang == "" {
		return stagedTranscript{}
	}
	logger := log.WithComponentFromContext(ctx, "downloader")

	priority := feed.TranscriptSourcePriority
	if len(priority) == 0 {
		priority = []domain.TranscriptSource{domain.TranscriptSourceCreator, domain.TranscriptSourceAuto}
	}
	for _, source := range priority {
		src, err := dl.extractor.DownloadTranscript(ctx, d, feed.TranscriptLang, source, tmpDir)
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldDownloadID, d.ID).
				Str("transcript_source", string(source)).
				Msg("transcript download failed")
			continue
		}
		if src == "" {
			continue
		}
		return stagedTranscript{src: src, ext: extOf(src), lang: feed.TranscriptLang, source: source}
	}
	return stagedTranscript{}
}

// installTranscript renames a staged transcript to its canonical path,
// returning the persisted field values or empties on failure.
func (dl *Downloader) installTranscript(ctx context.Context, feedID string, d *domain.Download, tr stagedTranscript) (string, string, domain.TranscriptSource) {
	if tr.src == "" {
		return "", "", ""
	}
	target, err := dl.paths.TranscriptPath(feedID, d.ID, tr.lang, tr.ext)
	if err == nil {
		err = dl.files.MoveIntoPlace(tr.src, target)
	}
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "downloader")
		logger.Warn().Err(err).Str(log.FieldDownloadID, d.ID).Msg("transcript install failed")
		return "", "", ""
	}
	return tr.ext, tr.lang, tr.source
}

// fetchTranscript stages and installs a transcript in one step, for callers
// outside the download sequencing (artifact refresh).
func (dl *Downloader) fetchTranscript(ctx context.Context, feed *domain.Feed, d *domain.Download, tmpDir string) (string, string, domain.TranscriptSource) {
	return dl.installTranscript(ctx, feed.ID, d, dl.stageTranscript(ctx, feed, d, tmpDir))
}

// rollbackInstall removes the files installed for an item whose status
// update did not commit.
func (dl *Downloader) rollbackInstall(feed *domain.Feed, d *domain.Download, mediaTarget string, params store.MarkDownloadedParams) {
	_, _ = dl.files.Delete(mediaTarget)
	if params.ThumbnailExt != "" {
		if p, err := dl.paths.ThumbnailPath(feed.ID, d.ID, params.ThumbnailExt); err == nil {
			_, _ = dl.files.Delete(p)
		}
	}
	if params.TranscriptExt != "" {
		if p, err := dl.paths.TranscriptPath(feed.ID, d.ID, params.TranscriptLang, params.TranscriptExt); err == nil {
			_, _ = dl.files.Delete(p)
		}
	}
}

// DownloadArtifacts performs only the requested artifact subset for one row
// and persists the corresponding fields through targeted setters. Used by
// metadata-refresh operations. Returns the mask of artifacts that were
// actually produced and installed.
func (dl *Downloader) DownloadArtifacts(ctx context.Context, feed *domain.Feed, d *domain.Download, mask Artifact, maxErrors int) (Artifact, error) {
	tmpDir, err := dl.paths.TmpDirFor(feed.ID)
	if err != nil {
		return 0, err
	}
	defer cleanupItemFiles(tmpDir, d.ID)

	if mask.Has(ArtifactMedia) {
		if out := dl.processOne(ctx, feed, d, maxErrors); out != outcomeDownloaded {
			return 0, fmt.Errorf("media re-download did not complete for %s", d.Key())
		}
		return ArtifactMedia, nil // processOne already handled thumbnail and transcript
	}

	var done Artifact
	if mask.Has(ArtifactThumbnail) {
		ext := dl.fetchThumbnail(ctx, feed, d, tmpDir)
		if err := dl.store.SetThumbnailExt(ctx, feed.ID, d.ID, ext); err != nil {
			return done, err
		}
		if ext != "" {
			done |= ArtifactThumbnail
		}
	}
	if mask.Has(ArtifactTranscript) {
		ext, lang, source := dl.fetchTranscript(ctx, feed, d, tmpDir)
		if err := dl.store.SetTranscriptFields(ctx, feed.ID, d.ID, ext, lang, source); err != nil {
			return done, err
		}
		if ext != "" {
			done |= ArtifactTranscript
		}
	}
	return done, nil
}

func extOf(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return ext[1:]
}

// cleanupItemFiles removes any staged leftovers for one item, including
// partial downloads from a cancelled run.
func cleanupItemFiles(tmpDir, id string) {
	matches, err := filepath.Glob(filepath.Join(tmpDir, id+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
