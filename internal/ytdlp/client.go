// SPDX-License-Identifier: MIT

// Package ytdlp is a narrow contract over the external yt-dlp process: it
// classifies source URLs, enumerates playlist items, and produces media,
// thumbnail and transcript files at caller-dictated locations. Callers only
// ever see typed results and the package's error taxonomy.
package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/metrics"
)

const (
	defaultBinary          = "yt-dlp"
	defaultMetadataTimeout = 2 * time.Minute
	maxCapturedLogBytes    = 16 * 1024
)

// Options configures the wrapper.
type Options struct {
	Binary          string        // path to the yt-dlp binary, default "yt-dlp"
	CookiesPath     string        // optional cookies file forwarded to the tool
	POTProviderURL  string        // optional proof-of-origin token service; empty disables token fetching
	UpdateChannel   string        // yt-dlp release channel for self-updates, e.g. "stable"
	UpdateEvery     time.Duration // minimum interval between self-updates; 0 disables
	MetadataTimeout time.Duration // wall-clock cap on metadata-only invocations
	MetadataRate    rate.Limit    // upstream courtesy limit on metadata calls; 0 means unlimited
}

// Client wraps the external tool. Safe for concurrent use, though the
// pipeline serializes feed runs anyway.
type Client struct {
	run     runner
	opts    Options
	limiter *rate.Limiter
	update  updateState
	httpc   *http.Client
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = defaultBinary
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = defaultMetadataTimeout
	}
	var limiter *rate.Limiter
	if opts.MetadataRate > 0 {
		limiter = rate.NewLimiter(opts.MetadataRate, 1)
	}
	return &Client{
		run:     execRunner{bin: opts.Binary},
		opts:    opts,
		limiter: limiter,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// FeedProperties is the result of classifying a source URL.
type FeedProperties struct {
	SourceType       domain.SourceType
	ResolvedURL      string
	SuggestedTitle   string
	SuggestedAuthor  string
	FeedThumbnailURL string
}

// DiscoverFeedProperties inspects the URL with a lightweight metadata-only
// extraction and classifies it. Channel-like URLs are rewritten to their
// canonical videos listing.
func (c *Client) DiscoverFeedProperties(ctx context.Context, rawURL string) (*FeedProperties, error) {
	c.maybeSelfUpdate(ctx)
	metrics.IncExtractorInvocation("discover")
	out, err := c.runMetadata(ctx,
		append(c.baseArgs(), "--dump-single-json", "--flat-playlist", "--playlist-items", "1:1", rawURL))
	if err != nil {
		return nil, err
	}
	e, err := parseEntry(bytes.TrimSpace(out))
	if err != nil {
		return nil, err
	}

	props := &FeedProperties{
		ResolvedURL:      firstNonEmpty(e.WebpageURL, rawURL),
		SuggestedTitle:   e.Title,
		SuggestedAuthor:  firstNonEmpty(e.Channel, e.Uploader),
		FeedThumbnailURL: e.Thumbnail,
	}

	switch e.Type {
	case "playlist", "multi_video":
		if isChannelURL(props.ResolvedURL) {
			props.SourceType = domain.SourceTypeChannel
			props.ResolvedURL = canonicalVideosURL(props.ResolvedURL)
		} else {
			props.SourceType = domain.SourceTypePlaylist
		}
	case "video", "":
		props.SourceType = domain.SourceTypeSingleVideo
	default:
		props.SourceType = domain.SourceTypeUnknown
	}
	return props, nil
}

// PlaylistOptions bound a playlist enumeration.
type PlaylistOptions struct {
	Since    time.Time // ignore items published before this, zero means unbounded
	MaxItems int       // consider at most this many newest items, 0 means unbounded
}

// FetchPlaylistMetadata enumerates current items of the source. Each result
// is a fully populated Download with status QUEUED, or UPCOMING when the
// item is not yet a VOD.
//
// Partial-success contract: a non-zero exit with at least one well-formed
// item record returns the parsed items without error. Only zero records with
// a non-zero exit fails.
func (c *Client) FetchPlaylistMetadata(ctx context.Context, feedID, sourceURL string, opts PlaylistOptions) ([]*domain.Download, error) {
	c.maybeSelfUpdate(ctx)
	metrics.IncExtractorInvocation("playlist")
	logger := log.WithComponentFromContext(ctx, "ytdlp")

	args := append(c.baseArgs(), "--dump-json", "--skip-download", "--ignore-errors")
	if opts.MaxItems > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(opts.MaxItems))
	}
	if !opts.Since.IsZero() {
		args = append(args, "--dateafter", opts.Since.UTC().Format("20060102"))
	}
	args = append(args, sourceURL)

	if err := c.waitLimiter(ctx); err != nil {
		return nil, err
	}
	mctx, cancel := context.WithTimeout(ctx, c.opts.MetadataTimeout)
	defer cancel()
	stdout, stderr, exitCode, err := c.run.run(mctx, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractorFailed, err)
	}

	items := c.parseEntryLines(ctx, feedID, stdout)
	if len(items) == 0 && exitCode != 0 {
		return nil, classifyFailure(string(stderr), exitCode)
	}
	if exitCode != 0 {
		logger.Warn().
			Str(log.FieldEvent, "extract.partial").
			Str(log.FieldFeedID, feedID).
			Int("exit_code", exitCode).
			Int("items", len(items)).
			Msg("extractor exited non-zero but produced records")
	}
	return items, nil
}

// FetchItemMetadata fetches metadata for a single post. For multi-attachment
// posts, the video entry is selected and its playlist index recorded so a
// later download picks the same item.
func (c *Client) FetchItemMetadata(ctx context.Context, feedID, itemURL string) (*domain.Download, error) {
	metrics.IncExtractorInvocation("item")
	out, err := c.runMetadata(ctx,
		append(c.baseArgs(), "--dump-json", "--skip-download", itemURL))
	if err != nil {
		return nil, err
	}
	items := c.parseEntryLines(ctx, feedID, out)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no item record", ErrExtractorFailed)
	}
	return items[0], nil
}

// parseEntryLines parses one JSON record per line, dropping malformed lines
// with a log entry. Multi-attachment posts expand to several records sharing
// a source URL; the video record wins and keeps its playlist index.
func (c *Client) parseEntryLines(ctx context.Context, feedID string, stdout []byte) []*domain.Download {
	logger := log.WithComponentFromContext(ctx, "ytdlp")
	byURL := make(map[string]int)
	var items []*domain.Download

	for _, line := range bytes.Split(stdout, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		e, err := parseEntry(line)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldFeedID, feedID).Msg("dropping unparseable record")
			continue
		}
		d, err := e.toDownload(feedID)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldFeedID, feedID).Msg("dropping incomplete record")
			continue
		}
		if prev, ok := byURL[d.SourceURL]; ok {
			// Same post seen before: prefer the entry carrying video.
			if e.hasVideo() {
				items[prev] = d
			}
			continue
		}
		byURL[d.SourceURL] = len(items)
		items = append(items, d)
	}
	return items
}

// MediaResult describes a produced media file plus the refined metadata the
// tool reported for it.
type MediaResult struct {
	Path     string
	Ext      string
	MimeType string
	Filesize int64
	Duration int64
	Logs     string
}

// DownloadMedia invokes the tool to produce the final media file inside
// tmpDir. No wall-clock timeout applies; cancellation of ctx terminates the
// subprocess.
func (c *Client) DownloadMedia(ctx context.Context, d *domain.Download, tmpDir string) (*MediaResult, error) {
	metrics.IncExtractorInvocation("media")
	tmpl := filepath.Join(tmpDir, d.ID+".%(ext)s")
	args := append(c.baseArgs(), "--no-simulate", "--dump-json", "-o", tmpl)
	if d.PlaylistIndex > 0 {
		args = append(args, "--playlist-items", strconv.Itoa(d.PlaylistIndex))
	}
	args = append(args, d.SourceURL)

	stdout, stderr, exitCode, err := c.run.run(ctx, args)
	logs := captureLogs(stdout, stderr)
	if err != nil {
		return &MediaResult{Logs: logs}, fmt.Errorf("%w: %v", ErrExtractorFailed, err)
	}
	if exitCode != 0 {
		return &MediaResult{Logs: logs}, classifyFailure(string(stderr), exitCode)
	}

	res := &MediaResult{Logs: logs, Ext: d.Ext, Duration: d.Duration}
	if line := lastJSONLine(stdout); line != nil {
		if e, err := parseEntry(line); err == nil {
			if e.Ext != "" {
				res.Ext = e.Ext
			}
			if e.Duration > 0 {
				res.Duration = int64(e.Duration)
			}
		}
	}

	path, err := findProducedFile(tmpDir, d.ID, res.Ext)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrExtractorFailed, err)
	}
	res.Path = path
	res.Ext = strings.TrimPrefix(filepath.Ext(path), ".")
	res.MimeType = MimeTypeForExt(res.Ext)
	if info, err := os.Stat(path); err == nil {
		res.Filesize = info.Size()
	}
	return res, nil
}

// DownloadMediaThumbnail skips the media and emits only the item's
// thumbnail, converted to JPEG, into tmpDir. A missing thumbnail is not an
// error; the empty string is returned.
func (c *Client) DownloadMediaThumbnail(ctx context.Context, d *domain.Download, tmpDir string) (string, error) {
	metrics.IncExtractorInvocation("thumbnail")
	args := append(c.baseArgs(),
		"--skip-download", "--write-thumbnail", "--convert-thumbnails", "jpg",
		"-o", filepath.Join(tmpDir, d.ID+".%(ext)s"))
	if d.PlaylistIndex > 0 {
		args = append(args, "--playlist-items", strconv.Itoa(d.PlaylistIndex))
	}
	args = append(args, d.SourceURL)

	mctx, cancel := context.WithTimeout(ctx, c.opts.MetadataTimeout)
	defer cancel()
	_, stderr, exitCode, err := c.run.run(mctx, args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractorFailed, err)
	}
	for _, ext := range []string{"jpg", "png", "webp"} {
		p := filepath.Join(tmpDir, d.ID+"."+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if exitCode != 0 {
		return "", classifyFailure(string(stderr), exitCode)
	}
	return "", nil
}

// DownloadFeedThumbnail fetches feed artwork from its remote URL into
// tmpDir. Returns the file path and extension, or empty strings when the
// feed has no artwork.
func (c *Client) DownloadFeedThumbnail(ctx context.Context, remoteURL, tmpDir string) (string, string, error) {
	if remoteURL == "" {
		return "", "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build artwork request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch artwork: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch artwork: status %d", resp.StatusCode)
	}

	ext := imageExt(resp.Header.Get("Content-Type"), remoteURL)
	path := filepath.Join(tmpDir, "artwork."+ext)
	f, err := os.Create(path) // #nosec G304 -- path is built from a validated tmp dir
	if err != nil {
		return "", "", fmt.Errorf("create artwork file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("write artwork: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("close artwork: %w", err)
	}
	return path, ext, nil
}

// DownloadTranscript obtains a timed-captions file for the item in the given
// language, from the creator track or the auto-generated one. Returns the
// produced file path, or the empty string when no such track exists.
func (c *Client) DownloadTranscript(ctx context.Context, d *domain.Download, lang string, source domain.TranscriptSource, tmpDir string) (string, error) {
	metrics.IncExtractorInvocation("transcript")
	args := append(c.baseArgs(), "--skip-download", "--convert-subs", "srt",
		"--sub-langs", lang,
		"-o", filepath.Join(tmpDir, d.ID+".%(ext)s"))
	switch source {
	case domain.TranscriptSourceAuto:
		args = append(args, "--write-auto-subs")
	default:
		args = append(args, "--write-subs")
	}
	args = append(args, d.SourceURL)

	mctx, cancel := context.WithTimeout(ctx, c.opts.MetadataTimeout)
	defer cancel()
	_, stderr, exitCode, err := c.run.run(mctx, args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractorFailed, err)
	}
	for _, ext := range []string{"srt", "vtt"} {
		p := filepath.Join(tmpDir, d.ID+"."+lang+"."+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if exitCode != 0 {
		return "", classifyFailure(string(stderr), exitCode)
	}
	return "", nil
}

func (c *Client) baseArgs() []string {
	args := []string{"--no-progress", "--no-colors"}
	if c.opts.CookiesPath != "" {
		args = append(args, "--cookies", c.opts.CookiesPath)
	}
	if c.opts.POTProviderURL != "" {
		args = append(args, "--extractor-args", "youtubepot-bgutilhttp:base_url="+c.opts.POTProviderURL)
	} else {
		args = append(args, "--extractor-args", "youtube:fetch_pot=never")
	}
	return args
}

// runMetadata runs a metadata-only invocation under the configured timeout
// and rate limit, failing on any non-zero exit.
func (c *Client) runMetadata(ctx context.Context, args []string) ([]byte, error) {
	if err := c.waitLimiter(ctx); err != nil {
		return nil, err
	}
	mctx, cancel := context.WithTimeout(ctx, c.opts.MetadataTimeout)
	defer cancel()
	stdout, stderr, exitCode, err := c.run.run(mctx, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractorFailed, err)
	}
	if exitCode != 0 {
		return nil, classifyFailure(string(stderr), exitCode)
	}
	return stdout, nil
}

// Version reports the installed yt-dlp version. Used as a startup probe for
// the binary's presence.
func (c *Client) Version(ctx context.Context) (string, error) {
	stdout, stderr, exitCode, err := c.run.run(ctx, []string{"--version"})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", c.opts.Binary, err)
	}
	if exitCode != 0 {
		return "", classifyFailure(string(stderr), exitCode)
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (c *Client) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrExtractorFailed, err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isChannelURL(u string) bool {
	return strings.Contains(u, "/@") ||
		strings.Contains(u, "/channel/") ||
		strings.Contains(u, "/c/") ||
		strings.Contains(u, "/user/")
}

func canonicalVideosURL(u string) string {
	trimmed := strings.TrimRight(u, "/")
	for _, tab := range []string{"/videos", "/streams", "/shorts"} {
		if strings.HasSuffix(trimmed, tab) {
			return trimmed
		}
	}
	return trimmed + "/videos"
}

// findProducedFile locates the media file the tool wrote for the given item.
// In-flight .part and fragment files are ignored.
func findProducedFile(tmpDir, id, preferredExt string) (string, error) {
	if preferredExt != "" {
		p := filepath.Join(tmpDir, id+"."+preferredExt)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(tmpDir, id+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		ext := filepath.Ext(m)
		if ext == ".part" || ext == ".ytdl" || ext == ".json" || ext == ".jpg" || ext == ".png" || ext == ".webp" {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("no media file produced for %s", id)
}

func lastJSONLine(stdout []byte) []byte {
	lines := bytes.Split(stdout, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 && line[0] == '{' {
			return line
		}
	}
	return nil
}

func captureLogs(stdout, stderr []byte) string {
	var b strings.Builder
	b.Write(stderr)
	if len(stdout) > 0 && len(stderr) > 0 {
		b.WriteByte('\n')
	}
	b.Write(stdout)
	s := b.String()
	if len(s) > maxCapturedLogBytes {
		s = s[len(s)-maxCapturedLogBytes:]
	}
	return s
}

// imageExt derives a file extension for artwork from the response content
// type, falling back to the URL path.
func imageExt(contentType, rawURL string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "webp"):
		return "webp"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return "jpg"
	}
	switch strings.ToLower(filepath.Ext(rawURL)) {
	case ".png":
		return "png"
	case ".webp":
		return "webp"
	case ".gif":
		return "gif"
	default:
		return "jpg"
	}
}
