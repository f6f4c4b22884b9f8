// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podlift/podlift/internal/paths"
)

func newPublicEnv(t *testing.T) (*PublicServer, string) {
	t.Helper()
	root := t.TempDir()
	pm, err := paths.New(root, "http://localhost:8080")
	require.NoError(t, err)
	require.NoError(t, pm.EnsureLayout())
	return NewPublicServer(pm, nil), root
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newPublicEnv(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServeFeedXML(t *testing.T) {
	s, root := newPublicEnv(t)
	target := filepath.Join(root, "feeds", "tech.xml")
	require.NoError(t, os.WriteFile(target, []byte("<rss/>"), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feeds/tech.xml", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<rss/>", rec.Body.String())
	assert.Equal(t, "application/rss+xml; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=3600")
}

func TestServeMediaConditionalRequest(t *testing.T) {
	s, root := newPublicEnv(t)
	target := filepath.Join(root, "media", "tech", "v1.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("audio"), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/tech/v1.mp3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/media/tech/v1.mp3", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServeMissingArtifact(t *testing.T) {
	s, _ := newPublicEnv(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/tech/absent.mp3", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtifactRejectsWriteMethods(t *testing.T) {
	s, root := newPublicEnv(t)
	target := filepath.Join(root, "feeds", "tech.xml")
	require.NoError(t, os.WriteFile(target, []byte("<rss/>"), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feeds/tech.xml", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestArtifactRejectsEncodedTraversal(t *testing.T) {
	s, root := newPublicEnv(t)
	secret := filepath.Join(root, "db", "podlift.db")
	require.NoError(t, os.WriteFile(secret, []byte("sqlite"), 0o644))

	// Double-encoded dot-dot survives any upstream path cleaning.
	req := httptest.NewRequest(http.MethodGet, "/media/%252e%252e/db/podlift.db", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestArtifactRejectsDirectoryListing(t *testing.T) {
	s, _ := newPublicEnv(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIsPathTraversal(t *testing.T) {
	hostile := []string{
		"/media/../db/x",
		"/media/%2e%2e/db/x",
		"/media/%252e%252e/db/x",
		"/media/a%00.mp3",
	}
	for _, p := range hostile {
		assert.True(t, isPathTraversal(p), p)
	}

	benign := []string{
		"/media/tech/v1.mp3",
		"/feeds/tech.xml",
		"/media/my%20feed/v1.mp3",
	}
	for _, p := range benign {
		assert.False(t, isPathTraversal(p), p)
	}
}
