// SPDX-License-Identifier: MIT

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/files"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/metrics"
	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/store"
)

// ErrFeedDisabled is returned when processing is requested for a disabled
// feed.
var ErrFeedDisabled = errors.New("feed is disabled")

// ErrFeedNotManual is returned when an item is submitted to a feed that has
// its own schedule; only manual feeds accept submissions.
var ErrFeedNotManual = errors.New("feed does not accept manual submissions")

// ErrItemNotVOD is returned when a submitted item is live or upcoming and
// therefore not downloadable yet.
var ErrItemNotVOD = errors.New("item is not a downloadable VOD")

// Coordinator runs the pipeline phases for one feed in order: enqueue,
// download, prune, rss. It assumes the caller serializes invocations; the
// scheduler holds a global slot so at most one feed is processed at a time.
type Coordinator struct {
	store     *store.Store
	extractor Extractor

	enqueuer   *Enqueuer
	downloader *Downloader
	pruner     *Pruner
	publisher  *Publisher

	// defMax is the global retry ceiling; overrides holds per-feed values
	// and is replaced wholesale on config reload.
	mu        sync.RWMutex
	overrides map[string]int
	defMax    int
}

// NewCoordinator assembles the pipeline. maxErrors is the global retry
// ceiling.
func NewCoordinator(st *store.Store, ex Extractor, fs *files.Store, pm *paths.Manager, maxErrors int) *Coordinator {
	return &Coordinator{
		store:      st,
		extractor:  ex,
		enqueuer:   NewEnqueuer(st, ex, fs, pm),
		downloader: NewDownloader(st, ex, fs, pm),
		pruner:     NewPruner(st, fs, pm),
		publisher:  NewPublisher(st, fs, pm),
		overrides:  make(map[string]int),
		defMax:     maxErrors,
	}
}

// SetRetryOverrides replaces the per-feed retry ceiling overrides, keyed by
// feed ID. Called on every configuration (re)load.
func (c *Coordinator) SetRetryOverrides(m map[string]int) {
	c.mu.Lock()
	c.overrides = m
	c.mu.Unlock()
}

func (c *Coordinator) retryCeiling(feedID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.overrides[feedID]; ok && n > 0 {
		return n
	}
	return c.defMax
}

// ProcessFeed runs one full pass for the feed. A fatal enqueue failure
// aborts the pass before download and prune, but the RSS file is still
// regenerated, so transient upstream outages never blank a published feed.
func (c *Coordinator) ProcessFeed(ctx context.Context, feedID string) error {
	logger := log.WithComponentFromContext(ctx, "coordinator")
	started := time.Now()

	feed, err := c.store.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}
	if !feed.IsEnabled {
		return fmt.Errorf("%s: %w", feedID, ErrFeedDisabled)
	}

	logger.Info().
		Str(log.FieldEvent, "pipeline.start").
		Str(log.FieldFeedID, feedID).
		Msg("processing feed")

	var errs []error

	enqueueFailed := false
	if err := c.enqueuer.Run(ctx, feed); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).
			Str(log.FieldFeedID, feedID).
			Str(log.FieldPhase, "enqueue").
			Msg("phase failed")
		errs = append(errs, err)
		enqueueFailed = true
	}

	// A fatal enqueue skips download and prune; only RSS regeneration runs
	// so the published feed keeps serving what it already has.
	var downloaded, archived int
	if !enqueueFailed {
		var err error
		downloaded, err = c.downloader.Run(ctx, feed, c.retryCeiling(feedID))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error().Err(err).
				Str(log.FieldFeedID, feedID).
				Str(log.FieldPhase, "download").
				Msg("phase failed")
			errs = append(errs, err)
		}

		archived, err = c.pruner.Run(ctx, feed)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error().Err(err).
				Str(log.FieldFeedID, feedID).
				Str(log.FieldPhase, "prune").
				Msg("phase failed")
			errs = append(errs, err)
		}
	}

	if err := c.publisher.Run(ctx, feed); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).
			Str(log.FieldFeedID, feedID).
			Str(log.FieldPhase, "rss").
			Msg("phase failed")
		errs = append(errs, err)
	}

	elapsed := time.Since(started)
	metrics.ObserveFeedProcessing(feedID, elapsed, len(errs) == 0)
	logger.Info().
		Str(log.FieldEvent, "pipeline.complete").
		Str(log.FieldFeedID, feedID).
		Int("downloaded", downloaded).
		Int("archived", archived).
		Dur(log.FieldDuration, elapsed).
		Bool("clean", len(errs) == 0).
		Msg("feed processed")

	return errors.Join(errs...)
}

// AddManualSubmission fetches metadata for a single item URL and inserts it
// into the feed's queue. Only manual feeds accept submissions, and only for
// items that are already VODs. Resubmitting a URL whose item already exists
// is a no-op; the existing row keeps its status. Returns the row and whether
// it was newly inserted.
func (c *Coordinator) AddManualSubmission(ctx context.Context, feedID, itemURL string) (*domain.Download, bool, error) {
	logger := log.WithComponentFromContext(ctx, "coordinator")

	feed, err := c.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, false, err
	}
	if !feed.IsEnabled {
		return nil, false, fmt.Errorf("%s: %w", feedID, ErrFeedDisabled)
	}
	if !feed.IsManual() {
		return nil, false, fmt.Errorf("%s: %w", feedID, ErrFeedNotManual)
	}

	d, err := c.extractor.FetchItemMetadata(ctx, feedID, itemURL)
	if err != nil {
		return nil, false, fmt.Errorf("fetch item metadata: %w", err)
	}
	if d.Status == domain.StatusUpcoming {
		return nil, false, fmt.Errorf("%s: %w", d.ID, ErrItemNotVOD)
	}
	isNew, err := c.store.UpsertDownload(ctx, d)
	if err != nil {
		return nil, false, err
	}

	logger.Info().
		Str(log.FieldEvent, "manual.submitted").
		Str(log.FieldFeedID, feedID).
		Str(log.FieldDownloadID, d.ID).
		Bool("inserted", isNew).
		Msg("manual submission")

	row, err := c.store.GetDownload(ctx, feedID, d.ID)
	if err != nil {
		return nil, false, err
	}
	return row, isNew, nil
}

// RefreshResult describes what a metadata refresh changed.
type RefreshResult struct {
	Download            *domain.Download
	MetadataChanged     bool
	UpdatedFields       []string
	ThumbnailRefreshed  bool
	TranscriptRefreshed bool
}

// RefreshDownloadMetadata refetches upstream metadata for one row without
// changing its status. The thumbnail is re-downloaded when the upstream
// artwork URL changed; the transcript only on request.
func (c *Coordinator) RefreshDownloadMetadata(ctx context.Context, feedID, downloadID string, refreshTranscript bool) (*RefreshResult, error) {
	feed, err := c.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	row, err := c.store.GetDownload(ctx, feedID, downloadID)
	if err != nil {
		return nil, err
	}

	fresh, err := c.extractor.FetchItemMetadata(ctx, feedID, row.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch item metadata: %w", err)
	}
	fresh.PlaylistIndex = row.PlaylistIndex

	res := &RefreshResult{UpdatedFields: metadataDiff(row, fresh)}
	res.MetadataChanged = len(res.UpdatedFields) > 0
	if _, err := c.store.UpsertDownload(ctx, fresh); err != nil {
		return nil, err
	}

	var mask Artifact
	if fresh.RemoteThumbnailURL != "" && fresh.RemoteThumbnailURL != row.RemoteThumbnailURL {
		mask |= ArtifactThumbnail
	}
	if refreshTranscript {
		mask |= ArtifactTranscript
	}
	if mask != 0 {
		row, err = c.store.GetDownload(ctx, feedID, downloadID)
		if err != nil {
			return nil, err
		}
		done, err := c.downloader.DownloadArtifacts(ctx, feed, row, mask, c.retryCeiling(feedID))
		if err != nil {
			return nil, err
		}
		res.ThumbnailRefreshed = done.Has(ArtifactThumbnail)
		res.TranscriptRefreshed = done.Has(ArtifactTranscript)
	}

	res.Download, err = c.store.GetDownload(ctx, feedID, downloadID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// metadataDiff lists the metadata-owned fields that differ between the
// stored row and a fresh extraction.
func metadataDiff(old, fresh *domain.Download) []string {
	var fields []string
	if old.Title != fresh.Title {
		fields = append(fields, "title")
	}
	if old.Description != fresh.Description {
		fields = append(fields, "description")
	}
	// Stored timestamps carry second precision.
	if !old.Published.Equal(fresh.Published.Truncate(time.Second)) {
		fields = append(fields, "published")
	}
	if old.Duration != fresh.Duration {
		fields = append(fields, "duration")
	}
	if old.QualityInfo != fresh.QualityInfo {
		fields = append(fields, "quality_info")
	}
	if old.RemoteThumbnailURL != fresh.RemoteThumbnailURL {
		fields = append(fields, "remote_thumbnail_url")
	}
	return fields
}
