// SPDX-License-Identifier: MIT

package ytdlp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/podlift/podlift/internal/domain"
)

// entry mirrors the subset of the tool's schemaless JSON we consume. The raw
// map never leaves this package; parsing converts it into a typed
// domain.Download and fails precisely when required fields are absent.
type entry struct {
	Type          string  `json:"_type"`
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	WebpageURL    string  `json:"webpage_url"`
	OriginalURL   string  `json:"original_url"`
	Timestamp     int64   `json:"timestamp"`
	UploadDate    string  `json:"upload_date"` // YYYYMMDD
	Duration      float64 `json:"duration"`
	Ext           string  `json:"ext"`
	Filesize      int64   `json:"filesize"`
	FilesizeAppr  int64   `json:"filesize_approx"`
	Thumbnail     string  `json:"thumbnail"`
	Description   string  `json:"description"`
	LiveStatus    string  `json:"live_status"`
	IsLive        bool    `json:"is_live"`
	PlaylistIndex int     `json:"playlist_index"`
	VCodec        string  `json:"vcodec"`
	Format        string  `json:"format"`
	Resolution    string  `json:"resolution"`

	// Playlist-level fields, present on --dump-single-json output.
	Channel  string `json:"channel"`
	Uploader string `json:"uploader"`
}

func parseEntry(line []byte) (*entry, error) {
	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	return &e, nil
}

// toDownload converts one entry into a typed Download for the given feed.
func (e *entry) toDownload(feedID string) (*domain.Download, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}
	if e.Title == "" {
		return nil, fmt.Errorf("%w: title", ErrMissingField)
	}

	sourceURL := e.WebpageURL
	if sourceURL == "" {
		sourceURL = e.OriginalURL
	}
	if sourceURL == "" {
		return nil, fmt.Errorf("%w: webpage_url", ErrMissingField)
	}

	d := &domain.Download{
		FeedID:             feedID,
		ID:                 e.ID,
		SourceURL:          sourceURL,
		Title:              e.Title,
		Published:          e.published(),
		Ext:                e.Ext,
		MimeType:           MimeTypeForExt(e.Ext),
		Filesize:           e.filesize(),
		Duration:           int64(e.Duration),
		Status:             e.status(),
		RemoteThumbnailURL: e.Thumbnail,
		Description:        e.Description,
		QualityInfo:        e.quality(),
		PlaylistIndex:      e.PlaylistIndex,
	}
	return d, nil
}

func (e *entry) published() time.Time {
	if e.Timestamp > 0 {
		return time.Unix(e.Timestamp, 0).UTC()
	}
	if e.UploadDate != "" {
		if t, err := time.Parse("20060102", e.UploadDate); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (e *entry) filesize() int64 {
	if e.Filesize > 0 {
		return e.Filesize
	}
	return e.FilesizeAppr
}

// status maps the tool's live_status to the state machine: scheduled or
// in-progress live events are UPCOMING, everything else is a downloadable
// VOD.
func (e *entry) status() domain.Status {
	if e.IsLive {
		return domain.StatusUpcoming
	}
	switch e.LiveStatus {
	case "is_upcoming", "is_live", "post_live":
		return domain.StatusUpcoming
	default:
		return domain.StatusQueued
	}
}

func (e *entry) quality() string {
	switch {
	case e.Format != "" && e.Resolution != "":
		return e.Format + " (" + e.Resolution + ")"
	case e.Format != "":
		return e.Format
	default:
		return e.Resolution
	}
}

// hasVideo reports whether the entry carries a video track. Audio-only
// attachments of multi-attachment posts report vcodec "none".
func (e *entry) hasVideo() bool {
	return e.VCodec != "" && e.VCodec != "none"
}

// MimeTypeForExt maps a media container extension to its MIME type.
func MimeTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case "mp4", "m4v":
		return "video/mp4"
	case "m4a":
		return "audio/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "mp3":
		return "audio/mpeg"
	case "ogg", "opus":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "mov":
		return "video/quicktime"
	case "":
		return ""
	default:
		return "application/octet-stream"
	}
}
