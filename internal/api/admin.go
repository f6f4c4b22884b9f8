// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/feed"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/scheduler"
	"github.com/podlift/podlift/internal/store"
)

// Coordinator is the pipeline surface the admin API drives.
type Coordinator interface {
	AddManualSubmission(ctx context.Context, feedID, itemURL string) (*domain.Download, bool, error)
	RefreshDownloadMetadata(ctx context.Context, feedID, downloadID string, refreshTranscript bool) (*feed.RefreshResult, error)
}

// Trigger queues a processing run for a feed.
type Trigger interface {
	Trigger(feedID string) error
}

// AdminServer exposes operator endpoints. It binds on a separate port from
// the public surface and is expected to sit behind network-level access
// control.
type AdminServer struct {
	store       *store.Store
	coordinator Coordinator
	trigger     Trigger
	router      chi.Router
}

// NewAdminServer builds the admin router.
func NewAdminServer(st *store.Store, coord Coordinator, trig Trigger, trustedProxies []string) *AdminServer {
	s := &AdminServer{store: st, coordinator: coord, trigger: trig}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(realIP(trustedProxies))
	r.Use(requestLogger)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Get("/feeds", s.handleListFeeds)
		r.Route("/feeds/{feedID}", func(r chi.Router) {
			r.Get("/", s.handleGetFeed)
			r.Post("/process", s.handleProcess)
			r.Post("/requeue", s.handleBulkRequeue)
			r.Get("/downloads", s.handleListDownloads)
			r.Post("/downloads", s.handleSubmit)
			r.Route("/downloads/{downloadID}", func(r chi.Router) {
				r.Get("/", s.handleGetDownload)
				r.Post("/requeue", s.handleRequeueOne)
				r.Post("/refresh-metadata", s.handleRefreshMetadata)
				r.Post("/archive", s.handleArchiveOne)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the admin router.
func (s *AdminServer) Handler() http.Handler { return s.router }

func (s *AdminServer) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]feedView, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, viewOfFeed(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": out})
}

func (s *AdminServer) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFeed(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfFeed(f))
}

// handleProcess queues a full pipeline run. 202 on queue, 200 when the feed
// already has a run pending.
func (s *AdminServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	if _, err := s.store.GetFeed(r.Context(), feedID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.trigger.Trigger(feedID); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyPending) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "already_pending"})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *AdminServer) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	status := domain.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.StatusDownloaded
	}
	if !status.IsValid() {
		writeAPIError(w, http.StatusBadRequest, "invalid_status",
			"unknown status", map[string]string{"status": status.String()})
		return
	}
	rows, err := s.store.ListByStatus(r.Context(), feedID, status, 0, 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]downloadView, 0, len(rows))
	for _, d := range rows {
		out = append(out, viewOfDownload(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloads": out})
}

func (s *AdminServer) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDownload(r.Context(), chi.URLParam(r, "feedID"), chi.URLParam(r, "downloadID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfDownload(d))
}

type submitRequest struct {
	URL string `json:"url"`
}

// handleSubmit adds a single item to a manual feed by URL and schedules a
// processing pass. Resubmitting an existing item is a no-op and reports the
// existing row.
func (s *AdminServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_body", "body must be {\"url\": \"...\"}", nil)
		return
	}
	feedID := chi.URLParam(r, "feedID")
	d, isNew, err := s.coordinator.AddManualSubmission(r.Context(), feedID, req.URL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.scheduleRun(r.Context(), feedID)

	code := http.StatusOK
	message := "already known"
	if isNew {
		code = http.StatusCreated
		message = "download queued"
	}
	writeJSON(w, code, map[string]any{
		"feed_id":     feedID,
		"download_id": d.ID,
		"status":      d.Status.String(),
		"new":         isNew,
		"message":     message,
	})
}

// scheduleRun queues a background pass for the feed; a run already waiting
// is good enough.
func (s *AdminServer) scheduleRun(ctx context.Context, feedID string) {
	if err := s.trigger.Trigger(feedID); err != nil && !errors.Is(err, scheduler.ErrAlreadyPending) {
		logger := log.WithComponentFromContext(ctx, "api")
		logger.Warn().Err(err).Str(log.FieldFeedID, feedID).Msg("schedule feed run")
	}
}

type requeueRequest struct {
	From string `json:"from"` // "error" (default) or "skipped"
}

func parseRequeueFrom(r *http.Request) (domain.Status, error) {
	var req requeueRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
	}
	switch req.From {
	case "", domain.StatusError.String():
		return domain.StatusError, nil
	case domain.StatusSkipped.String():
		return domain.StatusSkipped, nil
	default:
		return "", errors.New("from must be error or skipped")
	}
}

func (s *AdminServer) handleRequeueOne(w http.ResponseWriter, r *http.Request) {
	from, err := parseRequeueFrom(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	feedID, id := chi.URLParam(r, "feedID"), chi.URLParam(r, "downloadID")
	if err := s.store.RequeueDownload(r.Context(), feedID, id, from); err != nil {
		writeDomainError(w, err)
		return
	}
	d, err := s.store.GetDownload(r.Context(), feedID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfDownload(d))
}

// handleBulkRequeue requeues every matching row of the feed and schedules a
// processing pass to drain them.
func (s *AdminServer) handleBulkRequeue(w http.ResponseWriter, r *http.Request) {
	from, err := parseRequeueFrom(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	feedID := chi.URLParam(r, "feedID")
	if _, err := s.store.GetFeed(r.Context(), feedID); err != nil {
		writeDomainError(w, err)
		return
	}
	n, err := s.store.RequeueAll(r.Context(), feedID, from)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.scheduleRun(r.Context(), feedID)
	writeJSON(w, http.StatusAccepted, map[string]any{"feed_id": feedID, "requeue_count": n})
}

func (s *AdminServer) handleArchiveOne(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Archive(r.Context(), chi.URLParam(r, "feedID"), chi.URLParam(r, "downloadID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": domain.StatusArchived.String()})
}

// handleRefreshMetadata synchronously refetches upstream metadata for one
// row. The row's status never changes; the thumbnail is re-downloaded when
// the upstream artwork URL changed, the transcript only when
// refresh_transcript=true.
func (s *AdminServer) handleRefreshMetadata(w http.ResponseWriter, r *http.Request) {
	refreshTranscript := false
	if v := r.URL.Query().Get("refresh_transcript"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_query",
				"refresh_transcript must be a boolean", nil)
			return
		}
		refreshTranscript = b
	}
	res, err := s.coordinator.RefreshDownloadMetadata(r.Context(),
		chi.URLParam(r, "feedID"), chi.URLParam(r, "downloadID"), refreshTranscript)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	updated := res.UpdatedFields
	if updated == nil {
		updated = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metadata_changed":     res.MetadataChanged,
		"updated_fields":       updated,
		"thumbnail_refreshed":  res.ThumbnailRefreshed,
		"transcript_refreshed": res.TranscriptRefreshed,
		"download":             viewOfDownload(res.Download),
	})
}
