// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	FieldComponent  = "component"
	FieldEvent      = "event"
	FieldRequestID  = "request_id"
	FieldFeedID     = "feed_id"
	FieldDownloadID = "download_id"
	FieldPath       = "path"
	FieldURL        = "url"
	FieldStatus     = "status"
	FieldPhase      = "phase"
	FieldRetries    = "retries"
	FieldDuration   = "duration_ms"
)
