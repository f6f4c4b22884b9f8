// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the podlift pipeline.
// Labels stay low-cardinality: feed IDs are operator-configured and bounded,
// download IDs never appear in labels.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseFailureTotal counts fatal pipeline phase failures by phase.
	PhaseFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podlift_phase_failure_total",
		Help: "Total number of fatal pipeline phase failures, by phase.",
	}, []string{"phase"})

	// DiscoveredItemsTotal counts items seen during discovery passes.
	DiscoveredItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podlift_discovered_items_total",
		Help: "Total number of items enumerated during discovery, by feed.",
	}, []string{"feed"})

	// InsertedItemsTotal counts newly inserted download rows.
	InsertedItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podlift_inserted_items_total",
		Help: "Total number of newly discovered download rows, by feed.",
	}, []string{"feed"})

	// DownloadOutcomeTotal counts per-item download attempts by outcome
	// (success, failure, filtered).
	DownloadOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podlift_download_outcome_total",
		Help: "Total number of download attempts, by outcome.",
	}, []string{"outcome"})

	// FeedProcessingSeconds measures full pipeline pass duration per feed.
	FeedProcessingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podlift_feed_processing_seconds",
		Help:    "Duration of full feed pipeline passes.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	}, []string{"feed", "clean"})

	// QueuedTasks tracks scheduler tasks waiting for the processing slot.
	QueuedTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podlift_scheduler_queued_tasks",
		Help: "Current number of feed tasks waiting for the processing slot.",
	})

	// ExtractorInvocationsTotal counts yt-dlp subprocess invocations by kind.
	ExtractorInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podlift_extractor_invocations_total",
		Help: "Total number of extractor subprocess invocations, by kind.",
	}, []string{"kind"})
)

// IncPhaseFailure increments the fatal failure counter for a phase.
func IncPhaseFailure(phase string) {
	PhaseFailureTotal.WithLabelValues(phase).Inc()
}

// RecordDiscoveredItems records one discovery pass's enumeration counts.
func RecordDiscoveredItems(feedID string, discovered, inserted int) {
	DiscoveredItemsTotal.WithLabelValues(feedID).Add(float64(discovered))
	InsertedItemsTotal.WithLabelValues(feedID).Add(float64(inserted))
}

// IncDownloadOutcome increments the per-item attempt counter.
func IncDownloadOutcome(outcome string) {
	DownloadOutcomeTotal.WithLabelValues(outcome).Inc()
}

// ObserveFeedProcessing records the duration of one full pipeline pass.
func ObserveFeedProcessing(feedID string, d time.Duration, clean bool) {
	label := "true"
	if !clean {
		label = "false"
	}
	FeedProcessingSeconds.WithLabelValues(feedID, label).Observe(d.Seconds())
}

// IncExtractorInvocation counts one extractor subprocess run.
func IncExtractorInvocation(kind string) {
	ExtractorInvocationsTotal.WithLabelValues(kind).Inc()
}
