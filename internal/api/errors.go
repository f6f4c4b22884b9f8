// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/podlift/podlift/internal/feed"
	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/store"
	"github.com/podlift/podlift/internal/ytdlp"
)

// errorResponse is the wire shape of every admin API error.
type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Context   any    `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int, errorCode, msg string, ctx any) {
	writeJSON(w, code, errorResponse{ErrorCode: errorCode, Message: msg, Context: ctx})
}

// writeDomainError maps known error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, store.ErrIllegalTransition):
		writeAPIError(w, http.StatusConflict, "illegal_transition", err.Error(), nil)
	case errors.Is(err, feed.ErrFeedDisabled):
		writeAPIError(w, http.StatusConflict, "feed_disabled", err.Error(), nil)
	case errors.Is(err, feed.ErrFeedNotManual):
		writeAPIError(w, http.StatusBadRequest, "feed_not_manual", err.Error(), nil)
	case errors.Is(err, feed.ErrItemNotVOD):
		writeAPIError(w, http.StatusUnprocessableEntity, "item_not_vod", err.Error(), nil)
	case errors.Is(err, paths.ErrInvalidIdentifier):
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_identifier", err.Error(), nil)
	case errors.Is(err, ytdlp.ErrNotFound):
		writeAPIError(w, http.StatusUnprocessableEntity, "item_not_found", err.Error(), nil)
	case errors.Is(err, ytdlp.ErrExtractorFailed),
		errors.Is(err, ytdlp.ErrForbidden),
		errors.Is(err, ytdlp.ErrRateLimited),
		errors.Is(err, ytdlp.ErrCookiesRequired):
		writeAPIError(w, http.StatusBadGateway, "extractor_failed", err.Error(), nil)
	default:
		writeAPIError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}
