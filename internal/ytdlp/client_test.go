// SPDX-License-Identifier: MIT

package ytdlp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podlift/podlift/internal/domain"
)

// stubRunner replays a canned invocation result and records the args.
type stubRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	lastArgs []string
}

func (r *stubRunner) run(_ context.Context, args []string) ([]byte, []byte, int, error) {
	r.lastArgs = args
	return []byte(r.stdout), []byte(r.stderr), r.exitCode, r.err
}

func newStubClient(r *stubRunner) *Client {
	c := New(Options{})
	c.run = r
	return c
}

func entryLine(id, title, url string, extra string) string {
	if extra != "" {
		extra = "," + extra
	}
	return fmt.Sprintf(`{"id":%q,"title":%q,"webpage_url":%q%s}`, id, title, url, extra)
}

func TestFetchPlaylistMetadataParsesRecords(t *testing.T) {
	r := &stubRunner{stdout: entryLine("v1", "First", "https://example.com/v1",
		`"timestamp":1767225600,"ext":"mp4","duration":120.7,"playlist_index":3`) + "\n" +
		entryLine("v2", "Second", "https://example.com/v2", `"live_status":"is_upcoming"`) + "\n"}
	c := newStubClient(r)

	items, err := c.FetchPlaylistMetadata(context.Background(), "tech", "https://example.com/list", PlaylistOptions{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "v1", items[0].ID)
	assert.Equal(t, "tech", items[0].FeedID)
	assert.Equal(t, domain.StatusQueued, items[0].Status)
	assert.Equal(t, int64(120), items[0].Duration)
	assert.Equal(t, "video/mp4", items[0].MimeType)
	assert.Equal(t, 3, items[0].PlaylistIndex)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), items[0].Published)

	assert.Equal(t, domain.StatusUpcoming, items[1].Status)
}

func TestFetchPlaylistMetadataPartialSuccess(t *testing.T) {
	// Non-zero exit with parsed records: the records win.
	r := &stubRunner{
		stdout:   entryLine("v1", "First", "https://example.com/v1", "") + "\n",
		stderr:   "ERROR: [youtube] v2: Video unavailable\n",
		exitCode: 1,
	}
	c := newStubClient(r)

	items, err := c.FetchPlaylistMetadata(context.Background(), "tech", "https://example.com/list", PlaylistOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFetchPlaylistMetadataAllFailed(t *testing.T) {
	r := &stubRunner{stderr: "ERROR: [youtube] Private video. Access denied\n", exitCode: 1}
	c := newStubClient(r)

	_, err := c.FetchPlaylistMetadata(context.Background(), "tech", "https://example.com/list", PlaylistOptions{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFetchPlaylistMetadataDropsMalformedLines(t *testing.T) {
	r := &stubRunner{stdout: "not json\n" +
		entryLine("", "Untitled", "https://example.com/x", "") + "\n" + // missing id
		entryLine("ok", "Fine", "https://example.com/ok", "") + "\n"}
	c := newStubClient(r)

	items, err := c.FetchPlaylistMetadata(context.Background(), "tech", "https://example.com/list", PlaylistOptions{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].ID)
}

func TestFetchPlaylistMetadataBoundsArgs(t *testing.T) {
	r := &stubRunner{stdout: entryLine("v1", "First", "https://example.com/v1", "")}
	c := newStubClient(r)

	since := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	_, err := c.FetchPlaylistMetadata(context.Background(), "tech", "https://example.com/list",
		PlaylistOptions{Since: since, MaxItems: 25})
	require.NoError(t, err)

	assert.Contains(t, r.lastArgs, "--playlist-end")
	assert.Contains(t, r.lastArgs, "25")
	assert.Contains(t, r.lastArgs, "--dateafter")
	assert.Contains(t, r.lastArgs, "20260203")
	assert.Equal(t, "https://example.com/list", r.lastArgs[len(r.lastArgs)-1])
}

func TestMultiAttachmentPostPrefersVideoEntry(t *testing.T) {
	// Two records for the same post URL: the audio attachment first, then the
	// video one. The video entry must win and keep its playlist index.
	url := "https://example.com/post1"
	r := &stubRunner{stdout: entryLine("post1-a", "Post", url, `"vcodec":"none","playlist_index":1`) + "\n" +
		entryLine("post1-v", "Post", url, `"vcodec":"h264","playlist_index":2`) + "\n"}
	c := newStubClient(r)

	items, err := c.FetchPlaylistMetadata(context.Background(), "tech", "https://example.com/list", PlaylistOptions{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "post1-v", items[0].ID)
	assert.Equal(t, 2, items[0].PlaylistIndex)
}

func TestFetchItemMetadata(t *testing.T) {
	r := &stubRunner{stdout: entryLine("v9", "One-off", "https://example.com/v9", `"ext":"m4a"`)}
	c := newStubClient(r)

	d, err := c.FetchItemMetadata(context.Background(), "tech", "https://example.com/v9")
	require.NoError(t, err)
	assert.Equal(t, "v9", d.ID)
	assert.Equal(t, "audio/mp4", d.MimeType)
}

func TestFetchItemMetadataNoRecord(t *testing.T) {
	r := &stubRunner{stdout: ""}
	c := newStubClient(r)

	_, err := c.FetchItemMetadata(context.Background(), "tech", "https://example.com/gone")
	assert.ErrorIs(t, err, ErrExtractorFailed)
}

func TestDiscoverFeedPropertiesChannel(t *testing.T) {
	r := &stubRunner{stdout: `{"_type":"playlist","title":"Tech Channel","channel":"Tech",` +
		`"webpage_url":"https://youtube.com/@tech"}`}
	c := newStubClient(r)

	props, err := c.DiscoverFeedProperties(context.Background(), "https://youtube.com/@tech")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeChannel, props.SourceType)
	assert.Equal(t, "https://youtube.com/@tech/videos", props.ResolvedURL)
	assert.Equal(t, "Tech Channel", props.SuggestedTitle)
	assert.Equal(t, "Tech", props.SuggestedAuthor)
}

func TestDiscoverFeedPropertiesPlaylistAndVideo(t *testing.T) {
	r := &stubRunner{stdout: `{"_type":"playlist","title":"Mix","webpage_url":"https://youtube.com/playlist?list=PL1"}`}
	c := newStubClient(r)

	props, err := c.DiscoverFeedProperties(context.Background(), "https://youtube.com/playlist?list=PL1")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypePlaylist, props.SourceType)

	r.stdout = `{"_type":"video","id":"v1","title":"Solo","webpage_url":"https://youtube.com/watch?v=v1"}`
	props, err = c.DiscoverFeedProperties(context.Background(), "https://youtube.com/watch?v=v1")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeSingleVideo, props.SourceType)
}

func TestCanonicalVideosURL(t *testing.T) {
	assert.Equal(t, "https://youtube.com/@x/videos", canonicalVideosURL("https://youtube.com/@x"))
	assert.Equal(t, "https://youtube.com/@x/videos", canonicalVideosURL("https://youtube.com/@x/"))
	assert.Equal(t, "https://youtube.com/@x/videos", canonicalVideosURL("https://youtube.com/@x/videos"))
	assert.Equal(t, "https://youtube.com/@x/streams", canonicalVideosURL("https://youtube.com/@x/streams"))
}

func TestVersionProbe(t *testing.T) {
	r := &stubRunner{stdout: "2026.08.01\n"}
	c := newStubClient(r)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026.08.01", v)

	r.exitCode = 1
	r.stderr = "yt-dlp: error: broken install"
	_, err = c.Version(context.Background())
	assert.Error(t, err)
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		stderr string
		want   error
	}{
		{"ERROR: [youtube] v1: Video unavailable", ErrNotFound},
		{"ERROR: [youtube] v1: Private video. Sign in if you've been granted access", ErrForbidden},
		{"ERROR: HTTP Error 429: Too Many Requests", ErrRateLimited},
		{"ERROR: Sign in to confirm you're not a bot. Use --cookies", ErrCookiesRequired},
		{"v1 does not pass filter (duration > 60)", ErrItemFiltered},
		{"something exploded", ErrExtractorFailed},
	}
	for _, tc := range cases {
		err := classifyFailure(tc.stderr, 1)
		assert.ErrorIs(t, err, tc.want, tc.stderr)
	}
}

func TestEntryPublishedFallsBackToUploadDate(t *testing.T) {
	e := &entry{UploadDate: "20260115"}
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), e.published())

	e = &entry{Timestamp: 1767225600, UploadDate: "20200101"}
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), e.published(), "timestamp wins")

	e = &entry{}
	assert.True(t, e.published().IsZero())
}

func TestEntryStatusMapping(t *testing.T) {
	assert.Equal(t, domain.StatusUpcoming, (&entry{LiveStatus: "is_upcoming"}).status())
	assert.Equal(t, domain.StatusUpcoming, (&entry{LiveStatus: "is_live"}).status())
	assert.Equal(t, domain.StatusUpcoming, (&entry{LiveStatus: "post_live"}).status())
	assert.Equal(t, domain.StatusUpcoming, (&entry{IsLive: true}).status())
	assert.Equal(t, domain.StatusQueued, (&entry{LiveStatus: "was_live"}).status())
	assert.Equal(t, domain.StatusQueued, (&entry{}).status())
}

func TestMimeTypeForExt(t *testing.T) {
	assert.Equal(t, "video/mp4", MimeTypeForExt("mp4"))
	assert.Equal(t, "audio/mp4", MimeTypeForExt("M4A"))
	assert.Equal(t, "audio/mpeg", MimeTypeForExt("mp3"))
	assert.Equal(t, "application/octet-stream", MimeTypeForExt("weird"))
	assert.Equal(t, "", MimeTypeForExt(""))
}

func TestFirstLinePrefersErrorLine(t *testing.T) {
	stderr := "WARNING: something minor\nERROR: the real problem\n"
	assert.Equal(t, "ERROR: the real problem", firstLine(stderr))
	assert.Equal(t, "WARNING: only this", firstLine("\nWARNING: only this\n"))
	assert.Equal(t, "no output", firstLine(""))
}
