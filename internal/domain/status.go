// SPDX-License-Identifier: MIT

// Package domain provides the core entity types and enumerations shared by
// the podlift pipeline: feeds, downloads, their statuses and source kinds.
package domain

// Status represents the lifecycle state of a download.
//
// The state machine:
//
//	UPCOMING -> QUEUED -> DOWNLOADED
//	QUEUED   -> ERROR  (retry ceiling reached)
//	ERROR    -> QUEUED (explicit requeue)
//	any non-ARCHIVED -> ARCHIVED (retention or operator)
//	SKIPPED  -> QUEUED | ARCHIVED (unskip)
type Status string

const (
	// StatusUpcoming marks an item whose metadata is known but whose media
	// is not yet available (scheduled premiere or live event).
	StatusUpcoming Status = "upcoming"

	// StatusQueued marks an item waiting for the downloader.
	StatusQueued Status = "queued"

	// StatusDownloaded marks an item whose media is on disk.
	StatusDownloaded Status = "downloaded"

	// StatusError marks an item that failed at least the configured number
	// of consecutive download attempts.
	StatusError Status = "error"

	// StatusSkipped marks an item an operator set aside.
	StatusSkipped Status = "skipped"

	// StatusArchived is terminal: the item is excluded from RSS and its
	// files have been deleted.
	StatusArchived Status = "archived"
)

func (s Status) String() string { return string(s) }

// IsValid checks whether the status is one of the defined constants.
func (s Status) IsValid() bool {
	switch s {
	case StatusUpcoming, StatusQueued, StatusDownloaded, StatusError, StatusSkipped, StatusArchived:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final. Only ARCHIVED never
// transitions again; DOWNLOADED can still be archived by retention.
func (s Status) IsTerminal() bool {
	return s == StatusArchived
}

// ActiveStatuses are the states counted against retention windows.
var ActiveStatuses = []Status{StatusDownloaded, StatusError, StatusUpcoming}

// SourceType classifies what kind of upstream source a feed points at.
type SourceType string

const (
	SourceTypeChannel     SourceType = "channel"
	SourceTypePlaylist    SourceType = "playlist"
	SourceTypeSingleVideo SourceType = "single_video"
	SourceTypeManual      SourceType = "manual"
	SourceTypeUnknown     SourceType = "unknown"
)

func (t SourceType) String() string { return string(t) }

// IsValid checks whether the source type is one of the defined constants.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeChannel, SourceTypePlaylist, SourceTypeSingleVideo, SourceTypeManual, SourceTypeUnknown:
		return true
	default:
		return false
	}
}

// TranscriptSource identifies where a transcript track came from.
type TranscriptSource string

const (
	TranscriptSourceCreator TranscriptSource = "creator"
	TranscriptSourceAuto    TranscriptSource = "auto"
)

func (t TranscriptSource) IsValid() bool {
	return t == TranscriptSourceCreator || t == TranscriptSourceAuto
}
