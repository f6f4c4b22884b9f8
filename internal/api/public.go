// SPDX-License-Identifier: MIT

// Package api provides the two HTTP surfaces of the daemon: the public
// artifact server (RSS, media, images, transcripts) and the admin server
// (feed and download management, metrics).
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/version"
)

// PublicServer serves read-only artifacts to podcast clients.
type PublicServer struct {
	dataRoot string
	router   chi.Router
}

// NewPublicServer builds the public router. Only GET/HEAD artifact routes
// and the health probe are exposed; nothing on this surface mutates state.
func NewPublicServer(pm *paths.Manager, trustedProxies []string) *PublicServer {
	s := &PublicServer{dataRoot: pm.DataRoot()}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(realIP(trustedProxies))
	r.Use(requestLogger)

	r.Get("/api/health", s.handleHealth)

	files := s.artifactServer()
	for _, prefix := range []string{paths.FeedsDir, paths.MediaDir, paths.ImagesDir, paths.TranscriptsDir} {
		r.Handle("/"+prefix+"/*", files)
	}

	s.router = r
	return s
}

// Handler returns the public router.
func (s *PublicServer) Handler() http.Handler { return s.router }

func (s *PublicServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// NewHTTPServer wraps a handler in an http.Server with sane timeouts.
// Artifact downloads can be large, so there is no write timeout; idle and
// header timeouts still bound slow clients.
func NewHTTPServer(host string, port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
