// SPDX-License-Identifier: MIT

package feed

import (
	"context"
	"fmt"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/files"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/metrics"
	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/store"
)

// Pruner enforces a feed's retention bounds: rows beyond keep_last or
// published before the since cutoff are archived and their artifacts removed
// from disk.
type Pruner struct {
	store *store.Store
	files *files.Store
	paths *paths.Manager
}

// NewPruner wires the retention phase.
func NewPruner(st *store.Store, fs *files.Store, pm *paths.Manager) *Pruner {
	return &Pruner{store: st, files: fs, paths: pm}
}

// Run archives every row outside the feed's retention window and refreshes
// the feed's download count. Returns the number of rows archived.
func (p *Pruner) Run(ctx context.Context, feed *domain.Feed) (int, error) {
	logger := log.WithComponentFromContext(ctx, "pruner")

	// A row can match both bounds; the map dedupes before archiving.
	victims := make(map[string]*domain.Download)

	if feed.HasKeepLast() {
		rows, err := p.store.ListCandidatesByKeepLast(ctx, feed.ID, *feed.KeepLast)
		if err != nil {
			metrics.IncPhaseFailure("prune")
			return 0, fmt.Errorf("list keep_last candidates: %w", err)
		}
		for _, d := range rows {
			victims[d.ID] = d
		}
	}
	if feed.HasSince() {
		rows, err := p.store.ListCandidatesByBeforeDate(ctx, feed.ID, feed.Since)
		if err != nil {
			metrics.IncPhaseFailure("prune")
			return 0, fmt.Errorf("list since candidates: %w", err)
		}
		for _, d := range rows {
			victims[d.ID] = d
		}
	}

	archived := 0
	for _, d := range victims {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		p.removeArtifacts(ctx, feed, d)
		// The row is archived even when a file removal failed above; a
		// row pointing at a missing file is worse than a stray file.
		if err := p.store.Archive(ctx, feed.ID, d.ID); err != nil {
			logger.Error().Err(err).
				Str(log.FieldFeedID, feed.ID).
				Str(log.FieldDownloadID, d.ID).
				Msg("archive pruned row")
			continue
		}
		archived++
	}

	if archived > 0 {
		logger.Info().
			Str(log.FieldEvent, "prune.complete").
			Str(log.FieldFeedID, feed.ID).
			Int("archived", archived).
			Msg("retention pass complete")
	}

	if _, err := p.store.RefreshTotalDownloads(ctx, feed.ID); err != nil {
		return archived, fmt.Errorf("refresh download count: %w", err)
	}
	return archived, nil
}

// removeArtifacts deletes the row's media, thumbnail and transcript files.
// A file already absent is not an error; other removal failures are logged
// and do not block archiving.
func (p *Pruner) removeArtifacts(ctx context.Context, feed *domain.Feed, d *domain.Download) {
	logger := log.WithComponentFromContext(ctx, "pruner")

	type artifact struct {
		kind string
		path string
		err  error
	}
	var targets []artifact

	if d.Ext != "" {
		path, err := p.paths.MediaPath(feed.ID, d.ID, d.Ext)
		targets = append(targets, artifact{"media", path, err})
	}
	if d.HasThumbnail() {
		path, err := p.paths.ThumbnailPath(feed.ID, d.ID, d.ThumbnailExt)
		targets = append(targets, artifact{"thumbnail", path, err})
	}
	if d.HasTranscript() {
		path, err := p.paths.TranscriptPath(feed.ID, d.ID, d.TranscriptLang, d.TranscriptExt)
		targets = append(targets, artifact{"transcript", path, err})
	}

	for _, t := range targets {
		err := t.err
		if err == nil {
			_, err = p.files.Delete(t.path)
		}
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldFeedID, feed.ID).
				Str(log.FieldDownloadID, d.ID).
				Str("artifact", t.kind).
				Msg("remove pruned artifact")
		}
	}
}
