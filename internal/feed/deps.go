// SPDX-License-Identifier: MIT

// Package feed implements the per-feed processing pipeline: discovery and
// enqueueing of new items, downloading of artifacts, retention pruning and
// RSS publication, plus the coordinator that runs the phases in order.
package feed

import (
	"context"
	"errors"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/ytdlp"
)

// Extractor is the slice of the yt-dlp wrapper the pipeline consumes.
// *ytdlp.Client satisfies it; tests substitute stubs.
type Extractor interface {
	DiscoverFeedProperties(ctx context.Context, rawURL string) (*ytdlp.FeedProperties, error)
	FetchPlaylistMetadata(ctx context.Context, feedID, sourceURL string, opts ytdlp.PlaylistOptions) ([]*domain.Download, error)
	FetchItemMetadata(ctx context.Context, feedID, itemURL string) (*domain.Download, error)
	DownloadMedia(ctx context.Context, d *domain.Download, tmpDir string) (*ytdlp.MediaResult, error)
	DownloadMediaThumbnail(ctx context.Context, d *domain.Download, tmpDir string) (string, error)
	DownloadFeedThumbnail(ctx context.Context, remoteURL, tmpDir string) (string, string, error)
	DownloadTranscript(ctx context.Context, d *domain.Download, lang string, source domain.TranscriptSource, tmpDir string) (string, error)
}

// ErrEnqueueFailed marks a fatal discovery failure: the extractor could not
// enumerate the feed at all.
var ErrEnqueueFailed = errors.New("enqueue phase failed")
