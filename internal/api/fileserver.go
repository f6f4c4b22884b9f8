// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/podlift/podlift/internal/log"
)

// contentTypes maps artifact extensions to explicit content types. Anything
// else falls through to http.ServeContent's sniffing.
var contentTypes = map[string]string{
	".xml":  "application/rss+xml; charset=utf-8",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".opus": "audio/opus",
	".ogg":  "audio/ogg",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".srt":  "application/x-subrip; charset=utf-8",
	".vtt":  "text/vtt; charset=utf-8",
}

// artifactServer serves files below root. It refuses traversal sequences,
// symlink escapes and directory listings, and answers conditional requests
// with a weak ETag derived from mtime and size.
func (s *PublicServer) artifactServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "fileserver")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET and HEAD are served", nil)
			return
		}

		reqPath := r.URL.Path
		if isPathTraversal(reqPath) {
			logger.Warn().
				Str(log.FieldEvent, "file.denied").
				Str(log.FieldPath, reqPath).
				Str("reason", "path_escape").
				Msg("traversal sequence in request path")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if reqPath == "" || strings.HasSuffix(reqPath, "/") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		fullPath := filepath.Join(s.dataRoot, filepath.FromSlash(reqPath))
		realPath, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				http.NotFound(w, r)
				return
			}
			logger.Error().Err(err).Str(log.FieldPath, fullPath).Msg("resolve artifact path")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		realRoot, err := filepath.EvalSymlinks(s.dataRoot)
		if err != nil {
			logger.Error().Err(err).Msg("resolve data root")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		rel, err := filepath.Rel(realRoot, realPath)
		if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			logger.Warn().
				Str(log.FieldEvent, "file.denied").
				Str(log.FieldPath, reqPath).
				Str("reason", "symlink_escape").
				Msg("resolved path escapes data root")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		f, err := os.Open(realPath) // #nosec G304 -- containment verified above
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if match := r.Header.Get("If-None-Match"); match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		if ct, ok := contentTypes[strings.ToLower(filepath.Ext(info.Name()))]; ok {
			w.Header().Set("Content-Type", ct)
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

// isPathTraversal decodes the path repeatedly to catch double encodings,
// normalizes it, and rejects dot-dot sequences and NUL bytes.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		}
		if decoded == prev {
			break
		}
	}
	if strings.Contains(decoded, "\x00") || strings.Contains(strings.ToLower(decoded), "%00") {
		return true
	}
	normalized := norm.NFC.String(decoded)
	return strings.Contains(normalized, "..")
}
