// SPDX-License-Identifier: MIT

package domain

import "time"

// Default presentation values applied when the config and upstream metadata
// leave them unset.
const (
	DefaultCategory    = "TV & Film"
	DefaultPodcastType = "episodic"
	DefaultExplicit    = "no"
)

// Feed is a configured logical source whose items are materialized as
// podcast episodes. The ID doubles as a filesystem path component and is
// validated by the paths package.
type Feed struct {
	ID         string
	IsEnabled  bool
	SourceType SourceType

	SourceURL   string // empty for manual feeds
	ResolvedURL string // what discovery landed on, if different

	// Sync accounting.
	LastSuccessfulSync  time.Time
	LastFailedSync      time.Time // zero when never failed
	ConsecutiveFailures int

	// Retention.
	Since    time.Time // zero means no lower bound
	KeepLast *int      // nil means no limit; 0 means archive everything

	// Presentation metadata.
	Title          string
	Subtitle       string
	Description    string
	Language       string
	Author         string
	AuthorEmail    string
	RemoteImageURL string
	ImageExt       string // extension of locally hosted artwork, empty if absent
	Category       string
	PodcastType    string // "episodic" or "serial"
	Explicit       string // "yes", "no" or "clean"

	// Transcript preferences.
	TranscriptLang           string
	TranscriptSourcePriority []TranscriptSource

	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastRSSGeneration time.Time

	// TotalDownloads counts this feed's non-archived downloads.
	TotalDownloads int
}

// HasSince reports whether a lower retention bound is configured.
func (f *Feed) HasSince() bool { return !f.Since.IsZero() }

// HasKeepLast reports whether an item-count retention bound is configured.
func (f *Feed) HasKeepLast() bool { return f.KeepLast != nil }

// IsManual reports whether items arrive only via explicit submission.
func (f *Feed) IsManual() bool { return f.SourceType == SourceTypeManual }
