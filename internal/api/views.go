// SPDX-License-Identifier: MIT

package api

import (
	"time"

	"github.com/podlift/podlift/internal/domain"
)

// feedView is the admin API representation of a feed.
type feedView struct {
	ID                  string     `json:"id"`
	IsEnabled           bool       `json:"is_enabled"`
	SourceType          string     `json:"source_type"`
	SourceURL           string     `json:"source_url,omitempty"`
	Title               string     `json:"title,omitempty"`
	Author              string     `json:"author,omitempty"`
	LastSuccessfulSync  *time.Time `json:"last_successful_sync,omitempty"`
	LastFailedSync      *time.Time `json:"last_failed_sync,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRSSGeneration   *time.Time `json:"last_rss_generation,omitempty"`
	TotalDownloads      int        `json:"total_downloads"`
	KeepLast            *int       `json:"keep_last,omitempty"`
	Since               *time.Time `json:"since,omitempty"`
}

// downloadView is the admin API representation of a download row.
type downloadView struct {
	FeedID        string     `json:"feed_id"`
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	SourceURL     string     `json:"source_url"`
	Status        string     `json:"status"`
	Published     *time.Time `json:"published,omitempty"`
	Ext           string     `json:"ext,omitempty"`
	MimeType      string     `json:"mime_type,omitempty"`
	Filesize      int64      `json:"filesize,omitempty"`
	Duration      int64      `json:"duration,omitempty"`
	Retries       int        `json:"retries"`
	LastError     string     `json:"last_error,omitempty"`
	DiscoveredAt  *time.Time `json:"discovered_at,omitempty"`
	DownloadedAt  *time.Time `json:"downloaded_at,omitempty"`
	HasThumbnail  bool       `json:"has_thumbnail"`
	HasTranscript bool       `json:"has_transcript"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func viewOfFeed(f *domain.Feed) feedView {
	return feedView{
		ID:                  f.ID,
		IsEnabled:           f.IsEnabled,
		SourceType:          f.SourceType.String(),
		SourceURL:           f.SourceURL,
		Title:               f.Title,
		Author:              f.Author,
		LastSuccessfulSync:  timePtr(f.LastSuccessfulSync),
		LastFailedSync:      timePtr(f.LastFailedSync),
		ConsecutiveFailures: f.ConsecutiveFailures,
		LastRSSGeneration:   timePtr(f.LastRSSGeneration),
		TotalDownloads:      f.TotalDownloads,
		KeepLast:            f.KeepLast,
		Since:               timePtr(f.Since),
	}
}

func viewOfDownload(d *domain.Download) downloadView {
	return downloadView{
		FeedID:        d.FeedID,
		ID:            d.ID,
		Title:         d.Title,
		SourceURL:     d.SourceURL,
		Status:        d.Status.String(),
		Published:     timePtr(d.Published),
		Ext:           d.Ext,
		MimeType:      d.MimeType,
		Filesize:      d.Filesize,
		Duration:      d.Duration,
		Retries:       d.Retries,
		LastError:     d.LastError,
		DiscoveredAt:  timePtr(d.DiscoveredAt),
		DownloadedAt:  timePtr(d.DownloadedAt),
		HasThumbnail:  d.HasThumbnail(),
		HasTranscript: d.HasTranscript(),
	}
}
