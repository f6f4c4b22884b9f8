// SPDX-License-Identifier: MIT

package domain

import "time"

// Download is one item belonging to a feed; the unit of state in the
// pipeline. Identified by the (FeedID, ID) composite key where ID is the
// extractor's native identifier for the item.
type Download struct {
	FeedID string
	ID     string

	SourceURL string
	Title     string
	Published time.Time

	Ext      string // media container extension, e.g. "mp4", "m4a"
	MimeType string
	Filesize int64 // bytes, > 0 once downloaded
	Duration int64 // seconds, > 0 once downloaded

	Status       Status
	Retries      int
	LastError    string
	DownloadLogs string // captured output of the most recent attempt

	DiscoveredAt time.Time
	UpdatedAt    time.Time
	DownloadedAt time.Time // zero until downloaded

	RemoteThumbnailURL string
	ThumbnailExt       string // empty when no local thumbnail exists

	Description string
	QualityInfo string

	// PlaylistIndex selects which item inside a multi-attachment post to
	// download. 0 means unset.
	PlaylistIndex int

	TranscriptExt    string
	TranscriptLang   string
	TranscriptSource TranscriptSource
}

// HasThumbnail reports whether a local thumbnail artifact exists for this row.
func (d *Download) HasThumbnail() bool { return d.ThumbnailExt != "" }

// HasTranscript reports whether a local transcript artifact exists for this row.
func (d *Download) HasTranscript() bool { return d.TranscriptExt != "" }

// Key returns the composite identity as a loggable string.
func (d *Download) Key() string { return d.FeedID + "/" + d.ID }
