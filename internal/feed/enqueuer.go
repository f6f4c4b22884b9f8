// SPDX-License-Identifier: MIT

package feed

import (
	"context"
	"fmt"
	"os"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/files"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/metrics"
	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/store"
	"github.com/podlift/podlift/internal/ytdlp"
)

// Enqueuer discovers new items for one feed and maintains the
// UPCOMING/QUEUED boundary. It never touches artifacts.
type Enqueuer struct {
	store     *store.Store
	extractor Extractor
	files     *files.Store
	paths     *paths.Manager
}

// NewEnqueuer wires the discovery phase.
func NewEnqueuer(st *store.Store, ex Extractor, fs *files.Store, pm *paths.Manager) *Enqueuer {
	return &Enqueuer{store: st, extractor: ex, files: fs, paths: pm}
}

// Run performs one discovery pass. A fatal failure (the extractor could not
// enumerate the source at all) increments the feed's consecutive_failures
// and returns an error wrapping ErrEnqueueFailed; per-item problems are
// logged and skipped.
func (e *Enqueuer) Run(ctx context.Context, feed *domain.Feed) error {
	logger := log.WithComponentFromContext(ctx, "enqueuer")

	if err := e.ensureDiscovered(ctx, feed); err != nil {
		_ = e.store.RecordSyncFailure(ctx, feed.ID)
		metrics.IncPhaseFailure("enqueue")
		return fmt.Errorf("%w: discover %s: %v", ErrEnqueueFailed, feed.ID, err)
	}

	e.repollUpcoming(ctx, feed)

	// Manual feeds have no source to enumerate; repolling upcoming rows is
	// all the discovery they get.
	if !feed.IsManual() {
		opts := ytdlp.PlaylistOptions{Since: feed.Since}
		if feed.HasKeepLast() && *feed.KeepLast > 0 {
			opts.MaxItems = *feed.KeepLast
		}
		sourceURL := feed.ResolvedURL
		if sourceURL == "" {
			sourceURL = feed.SourceURL
		}

		items, err := e.extractor.FetchPlaylistMetadata(ctx, feed.ID, sourceURL, opts)
		if err != nil {
			_ = e.store.RecordSyncFailure(ctx, feed.ID)
			metrics.IncPhaseFailure("enqueue")
			return fmt.Errorf("%w: %s: %v", ErrEnqueueFailed, feed.ID, err)
		}

		inserted := 0
		for _, item := range items {
			if feed.HasSince() && item.Published.Before(feed.Since) {
				continue
			}
			isNew, err := e.store.UpsertDownload(ctx, item)
			if err != nil {
				logger.Error().Err(err).
					Str(log.FieldFeedID, feed.ID).
					Str(log.FieldDownloadID, item.ID).
					Msg("upsert discovered item")
				continue
			}
			if isNew {
				inserted++
			}
		}
		logger.Info().
			Str(log.FieldEvent, "enqueue.complete").
			Str(log.FieldFeedID, feed.ID).
			Int("discovered", len(items)).
			Int("inserted", inserted).
			Msg("discovery pass complete")
		metrics.RecordDiscoveredItems(feed.ID, len(items), inserted)
	}

	if err := e.store.RecordSyncSuccess(ctx, feed.ID); err != nil {
		return fmt.Errorf("record sync success: %w", err)
	}
	return nil
}

// ensureDiscovered classifies the source URL on the first pass and stores
// the result, including locally hosted feed artwork when available.
func (e *Enqueuer) ensureDiscovered(ctx context.Context, feed *domain.Feed) error {
	if feed.IsManual() || feed.SourceType != domain.SourceTypeUnknown {
		return nil
	}
	logger := log.WithComponentFromContext(ctx, "enqueuer")

	props, err := e.extractor.DiscoverFeedProperties(ctx, feed.SourceURL)
	if err != nil {
		return err
	}
	if err := e.store.SetFeedDiscovery(ctx, feed.ID, props.SourceType, props.ResolvedURL,
		props.SuggestedTitle, props.SuggestedAuthor, props.FeedThumbnailURL); err != nil {
		return err
	}
	feed.SourceType = props.SourceType
	feed.ResolvedURL = props.ResolvedURL
	feed.RemoteImageURL = props.FeedThumbnailURL

	if props.FeedThumbnailURL != "" {
		if err := e.fetchFeedArtwork(ctx, feed); err != nil {
			// Artwork is presentation only; the pass continues without it.
			logger.Warn().Err(err).
				Str(log.FieldFeedID, feed.ID).
				Msg("feed artwork download failed")
		}
	}
	return nil
}

func (e *Enqueuer) fetchFeedArtwork(ctx context.Context, feed *domain.Feed) error {
	tmpDir, err := e.paths.TmpDirFor(feed.ID)
	if err != nil {
		return err
	}
	src, ext, err := e.extractor.DownloadFeedThumbnail(ctx, feed.RemoteImageURL, tmpDir)
	if err != nil || src == "" {
		return err
	}
	defer func() { _ = os.Remove(src) }()

	target, err := e.paths.FeedImagePath(feed.ID, ext)
	if err != nil {
		return err
	}
	if err := e.files.MoveIntoPlace(src, target); err != nil {
		return err
	}
	if err := e.store.SetFeedImageExt(ctx, feed.ID, ext); err != nil {
		return err
	}
	feed.ImageExt = ext
	return nil
}

// repollUpcoming re-checks every UPCOMING row: items that became VODs move
// to QUEUED, items that fell outside the retention window are archived.
func (e *Enqueuer) repollUpcoming(ctx context.Context, feed *domain.Feed) {
	logger := log.WithComponentFromContext(ctx, "enqueuer")

	upcoming, err := e.store.ListByStatus(ctx, feed.ID, domain.StatusUpcoming, 0, 0)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldFeedID, feed.ID).Msg("list upcoming rows")
		return
	}

	for _, d := range upcoming {
		if feed.HasSince() && d.Published.Before(feed.Since) {
			if err := e.store.Archive(ctx, feed.ID, d.ID); err != nil {
				logger.Error().Err(err).
					Str(log.FieldFeedID, feed.ID).
					Str(log.FieldDownloadID, d.ID).
					Msg("archive out-of-window upcoming row")
			}
			continue
		}

		fresh, err := e.extractor.FetchItemMetadata(ctx, feed.ID, d.SourceURL)
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldFeedID, feed.ID).
				Str(log.FieldDownloadID, d.ID).
				Msg("re-poll upcoming item")
			continue
		}
		// Metadata may have changed while the item was scheduled; refresh it
		// without touching the status machine.
		if _, err := e.store.UpsertDownload(ctx, fresh); err != nil {
			logger.Error().Err(err).
				Str(log.FieldFeedID, feed.ID).
				Str(log.FieldDownloadID, d.ID).
				Msg("refresh upcoming metadata")
			continue
		}
		if fresh.Status == domain.StatusQueued {
			if err := e.store.MarkUpcomingAsQueued(ctx, feed.ID, d.ID); err != nil {
				logger.Error().Err(err).
					Str(log.FieldFeedID, feed.ID).
					Str(log.FieldDownloadID, d.ID).
					Msg("promote upcoming to queued")
				continue
			}
			logger.Info().
				Str(log.FieldEvent, "enqueue.vod_ready").
				Str(log.FieldFeedID, feed.ID).
				Str(log.FieldDownloadID, d.ID).
				Msg("upcoming item became a VOD")
		}
	}
}
