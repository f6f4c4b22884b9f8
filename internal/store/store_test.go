// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podlift/podlift/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedFeed(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.UpsertFeed(context.Background(), &domain.Feed{
		ID:         id,
		IsEnabled:  true,
		SourceType: domain.SourceTypeUnknown,
		SourceURL:  "https://example.com/" + id,
	}))
}

func makeDownload(feedID, id string, published time.Time, status domain.Status) *domain.Download {
	return &domain.Download{
		FeedID:    feedID,
		ID:        id,
		SourceURL: "https://example.com/watch?v=" + id,
		Title:     "Episode " + id,
		Published: published,
		Status:    status,
	}
}

func TestUpsertFeedInsertAndConfigRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keep := 10
	require.NoError(t, s.UpsertFeed(ctx, &domain.Feed{
		ID:        "tech",
		IsEnabled: true,
		SourceURL: "https://example.com/tech",
		KeepLast:  &keep,
		Title:     "Tech News",
	}))

	f, err := s.GetFeed(ctx, "tech")
	require.NoError(t, err)
	assert.True(t, f.IsEnabled)
	require.NotNil(t, f.KeepLast)
	assert.Equal(t, 10, *f.KeepLast)
	assert.Equal(t, "Tech News", f.Title)

	// Discovery results survive a config re-upsert.
	require.NoError(t, s.SetFeedDiscovery(ctx, "tech", domain.SourceTypeChannel,
		"https://example.com/tech/videos", "Suggested", "Author", "https://img.example.com/a.jpg"))
	require.NoError(t, s.UpsertFeed(ctx, &domain.Feed{
		ID:        "tech",
		IsEnabled: true,
		SourceURL: "https://example.com/tech",
		Title:     "Tech News v2",
	}))

	f, err = s.GetFeed(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeChannel, f.SourceType)
	assert.Equal(t, "https://example.com/tech/videos", f.ResolvedURL)
	assert.Equal(t, "Tech News v2", f.Title)
	assert.Nil(t, f.KeepLast, "keep_last removed from config clears the bound")
}

func TestSetFeedDiscoveryKeepsConfiguredPresentation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFeed(ctx, &domain.Feed{ID: "tech", IsEnabled: true, Title: "Configured"}))
	require.NoError(t, s.SetFeedDiscovery(ctx, "tech", domain.SourceTypePlaylist,
		"https://example.com/p", "Upstream Title", "Upstream Author", ""))

	f, err := s.GetFeed(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, "Configured", f.Title, "configured title wins")
	assert.Equal(t, "Upstream Author", f.Author, "empty author filled from upstream")
}

func TestGetFeedNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFeed(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncAccounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	require.NoError(t, s.RecordSyncFailure(ctx, "tech"))
	require.NoError(t, s.RecordSyncFailure(ctx, "tech"))
	f, err := s.GetFeed(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, 2, f.ConsecutiveFailures)
	assert.False(t, f.LastFailedSync.IsZero())

	require.NoError(t, s.RecordSyncSuccess(ctx, "tech"))
	f, err = s.GetFeed(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, 0, f.ConsecutiveFailures, "success resets the failure streak")
	assert.False(t, f.LastSuccessfulSync.IsZero())
}

func TestUpsertDownloadInsertThenMetadataRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	d := makeDownload("tech", "v1", time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC), domain.StatusQueued)
	isNew, err := s.UpsertDownload(ctx, d)
	require.NoError(t, err)
	assert.True(t, isNew)

	// Simulate a failed attempt, then a re-discovery of the same item.
	_, err = s.BumpRetries(ctx, "tech", "v1", "network blip", 3)
	require.NoError(t, err)

	refreshed := makeDownload("tech", "v1", d.Published, domain.StatusQueued)
	refreshed.Title = "Episode v1 (updated)"
	isNew, err = s.UpsertDownload(ctx, refreshed)
	require.NoError(t, err)
	assert.False(t, isNew)

	got, err := s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Episode v1 (updated)", got.Title)
	assert.Equal(t, 1, got.Retries, "refresh never touches retry accounting")
	assert.Equal(t, "network blip", got.LastError)
	assert.Equal(t, domain.StatusQueued, got.Status)
}

func TestUpsertDownloadPreservesArtifactFieldsOfDownloadedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	d := makeDownload("tech", "v1", time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), domain.StatusQueued)
	_, err := s.UpsertDownload(ctx, d)
	require.NoError(t, err)
	require.NoError(t, s.MarkDownloaded(ctx, "tech", "v1", MarkDownloadedParams{
		Ext: "m4a", MimeType: "audio/mp4", Filesize: 1024, Duration: 600,
	}))

	// A later discovery pass reports different (pre-download) metadata.
	refreshed := makeDownload("tech", "v1", d.Published, domain.StatusQueued)
	refreshed.Ext = "webm"
	refreshed.Filesize = 7
	_, err = s.UpsertDownload(ctx, refreshed)
	require.NoError(t, err)

	got, err := s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloaded, got.Status)
	assert.Equal(t, "m4a", got.Ext)
	assert.Equal(t, int64(1024), got.Filesize)
}

func TestBumpRetriesReachesErrorAtCeiling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "v1", time.Now(), domain.StatusQueued))
	require.NoError(t, err)

	st, err := s.BumpRetries(ctx, "tech", "v1", "fail 1", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, st)

	st, err = s.BumpRetries(ctx, "tech", "v1", "fail 2", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, st)

	st, err = s.BumpRetries(ctx, "tech", "v1", "fail 3", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, st)

	got, err := s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Retries)
	assert.Equal(t, "fail 3", got.LastError)
}

func TestMarkDownloadedTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "v1", time.Now(), domain.StatusQueued))
	require.NoError(t, err)

	require.NoError(t, s.MarkDownloaded(ctx, "tech", "v1", MarkDownloadedParams{Ext: "mp4"}))

	// DOWNLOADED -> DOWNLOADED is illegal.
	err = s.MarkDownloaded(ctx, "tech", "v1", MarkDownloadedParams{Ext: "mp4"})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = s.MarkDownloaded(ctx, "tech", "missing", MarkDownloadedParams{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDownloadedClearsRetryAccounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "v1", time.Now(), domain.StatusQueued))
	require.NoError(t, err)
	_, err = s.BumpRetries(ctx, "tech", "v1", "flaky", 5)
	require.NoError(t, err)

	require.NoError(t, s.MarkDownloaded(ctx, "tech", "v1", MarkDownloadedParams{Ext: "mp4"}))
	got, err := s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Zero(t, got.Retries)
	assert.Empty(t, got.LastError)
	assert.False(t, got.DownloadedAt.IsZero())
}

func TestMarkUpcomingAsQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "live1", time.Now(), domain.StatusUpcoming))
	require.NoError(t, err)

	require.NoError(t, s.MarkUpcomingAsQueued(ctx, "tech", "live1"))
	got, err := s.GetDownload(ctx, "tech", "live1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)

	// Not upcoming anymore: illegal.
	err = s.MarkUpcomingAsQueued(ctx, "tech", "live1")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestArchiveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "v1", time.Now(), domain.StatusQueued))
	require.NoError(t, err)

	require.NoError(t, s.Archive(ctx, "tech", "v1"))
	require.NoError(t, s.Archive(ctx, "tech", "v1"), "re-archiving is a no-op")
	assert.ErrorIs(t, s.Archive(ctx, "tech", "missing"), ErrNotFound)
}

func TestRequeueDownload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "v1", time.Now(), domain.StatusQueued))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.BumpRetries(ctx, "tech", "v1", "boom", 3)
		require.NoError(t, err)
	}

	require.NoError(t, s.RequeueDownload(ctx, "tech", "v1", domain.StatusError))
	got, err := s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Zero(t, got.Retries)

	// Already queued: requeue from error is illegal now.
	err = s.RequeueDownload(ctx, "tech", "v1", domain.StatusError)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRequeueAllCountsOnlyMatchingRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	for _, id := range []string{"a", "b"} {
		_, err := s.UpsertDownload(ctx, makeDownload("tech", id, time.Now(), domain.StatusQueued))
		require.NoError(t, err)
		_, err = s.BumpRetries(ctx, "tech", id, "x", 1) // straight to ERROR
		require.NoError(t, err)
	}
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "c", time.Now(), domain.StatusQueued))
	require.NoError(t, err)

	n, err := s.RequeueAll(ctx, "tech", domain.StatusError)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListByStatusOrdersOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	offsets := map[string]time.Duration{"old": 0, "mid": time.Hour, "new": 2 * time.Hour}
	for _, id := range []string{"new", "old", "mid"} {
		_, err := s.UpsertDownload(ctx, makeDownload("tech", id, base.Add(offsets[id]), domain.StatusQueued))
		require.NoError(t, err)
	}

	rows, err := s.ListByStatus(ctx, "tech", domain.StatusQueued, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "old", rows[0].ID)
	assert.Equal(t, "mid", rows[1].ID)
	assert.Equal(t, "new", rows[2].ID)

	page, err := s.ListByStatus(ctx, "tech", domain.StatusQueued, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "mid", page[0].ID)
}

func TestListCandidatesByKeepLast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3", "d4"} {
		_, err := s.UpsertDownload(ctx, makeDownload("tech", id, base.Add(time.Duration(i)*time.Hour), domain.StatusQueued))
		require.NoError(t, err)
		require.NoError(t, s.MarkDownloaded(ctx, "tech", id, MarkDownloadedParams{Ext: "mp4"}))
	}

	// Keep the 2 newest; d1 and d2 fall out.
	victims, err := s.ListCandidatesByKeepLast(ctx, "tech", 2)
	require.NoError(t, err)
	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	assert.ElementsMatch(t, []string{"d1", "d2"}, ids)

	// keep_last 0 selects everything active.
	victims, err = s.ListCandidatesByKeepLast(ctx, "tech", 0)
	require.NoError(t, err)
	assert.Len(t, victims, 4)
}

func TestListCandidatesByBeforeDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "older", cutoff.Add(-time.Hour), domain.StatusQueued))
	require.NoError(t, err)
	require.NoError(t, s.MarkDownloaded(ctx, "tech", "older", MarkDownloadedParams{Ext: "mp4"}))
	_, err = s.UpsertDownload(ctx, makeDownload("tech", "newer", cutoff.Add(time.Hour), domain.StatusQueued))
	require.NoError(t, err)
	require.NoError(t, s.MarkDownloaded(ctx, "tech", "newer", MarkDownloadedParams{Ext: "mp4"}))

	victims, err := s.ListCandidatesByBeforeDate(ctx, "tech", cutoff)
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Equal(t, "older", victims[0].ID)
}

func TestRefreshTotalDownloadsExcludesArchived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.UpsertDownload(ctx, makeDownload("tech", id, time.Now(), domain.StatusQueued))
		require.NoError(t, err)
	}
	require.NoError(t, s.Archive(ctx, "tech", "c"))

	n, err := s.RefreshTotalDownloads(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := s.GetFeed(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, 2, f.TotalDownloads)
}

func TestSetTranscriptFieldsClearsOnEmptyExt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "v1", time.Now(), domain.StatusQueued))
	require.NoError(t, err)

	require.NoError(t, s.SetTranscriptFields(ctx, "tech", "v1", "srt", "en", domain.TranscriptSourceCreator))
	got, err := s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Equal(t, "srt", got.TranscriptExt)
	assert.Equal(t, "en", got.TranscriptLang)

	require.NoError(t, s.SetTranscriptFields(ctx, "tech", "v1", "", "en", domain.TranscriptSourceCreator))
	got, err = s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Empty(t, got.TranscriptExt)
	assert.Empty(t, got.TranscriptLang)
}

func TestTimeRoundTripSecondPrecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedFeed(t, s, "tech")

	pub := time.Date(2026, 5, 4, 3, 2, 1, 999_000_000, time.UTC)
	_, err := s.UpsertDownload(ctx, makeDownload("tech", "v1", pub, domain.StatusQueued))
	require.NoError(t, err)

	got, err := s.GetDownload(ctx, "tech", "v1")
	require.NoError(t, err)
	assert.Equal(t, pub.Truncate(time.Second), got.Published)
}
