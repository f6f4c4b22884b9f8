// SPDX-License-Identifier: MIT

// Package paths maps logical identifiers (feed IDs, download IDs, file
// extensions) to filesystem paths under the data root and to public URLs
// under the base URL. It owns validation of identifiers used as path
// components.
package paths

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when an identifier is unsafe as a path
// component.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Subdirectories of the data root. Every artifact lives under exactly one.
const (
	MediaDir       = "media"
	ImagesDir      = "images"
	TranscriptsDir = "transcripts"
	FeedsDir       = "feeds"
	DBDir          = "db"
	TmpDir         = "tmp"
)

// Manager resolves identifiers into paths and URLs. Zero-value is not
// usable; construct with New.
type Manager struct {
	dataRoot string
	baseURL  string // no trailing slash
}

// New creates a Manager rooted at dataRoot, building public URLs under
// baseURL. dataRoot must be an absolute path.
func New(dataRoot, baseURL string) (*Manager, error) {
	if dataRoot == "" {
		return nil, fmt.Errorf("data root is empty")
	}
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	return &Manager{
		dataRoot: abs,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// DataRoot returns the absolute data root directory.
func (m *Manager) DataRoot() string { return m.dataRoot }

// ValidateID rejects identifiers that are unsafe as a path component:
// empty, "." or "..", containing a path separator or control characters.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
		}
	}
	return nil
}

// validateExt checks a file extension without its leading dot.
func validateExt(ext string) error {
	if ext == "" || strings.ContainsAny(ext, "/\\.") {
		return fmt.Errorf("%w: extension %q", ErrInvalidIdentifier, ext)
	}
	return ValidateID(ext)
}

// MediaPath returns {root}/media/{feed}/{download}.{ext}.
func (m *Manager) MediaPath(feedID, downloadID, ext string) (string, error) {
	if err := validateTriple(feedID, downloadID, ext); err != nil {
		return "", err
	}
	return filepath.Join(m.dataRoot, MediaDir, feedID, downloadID+"."+ext), nil
}

// MediaURL returns {base}/media/{feed}/{download}.{ext}.
func (m *Manager) MediaURL(feedID, downloadID, ext string) (string, error) {
	if err := validateTriple(feedID, downloadID, ext); err != nil {
		return "", err
	}
	return m.join(MediaDir, feedID, downloadID+"."+ext), nil
}

// FeedImagePath returns {root}/images/{feed}.{ext}.
func (m *Manager) FeedImagePath(feedID, ext string) (string, error) {
	if err := ValidateID(feedID); err != nil {
		return "", err
	}
	if err := validateExt(ext); err != nil {
		return "", err
	}
	return filepath.Join(m.dataRoot, ImagesDir, feedID+"."+ext), nil
}

// FeedImageURL returns {base}/images/{feed}.{ext}.
func (m *Manager) FeedImageURL(feedID, ext string) (string, error) {
	if err := ValidateID(feedID); err != nil {
		return "", err
	}
	if err := validateExt(ext); err != nil {
		return "", err
	}
	return m.join(ImagesDir, feedID+"."+ext), nil
}

// ThumbnailPath returns {root}/images/{feed}/downloads/{download}.{ext}.
func (m *Manager) ThumbnailPath(feedID, downloadID, ext string) (string, error) {
	if err := validateTriple(feedID, downloadID, ext); err != nil {
		return "", err
	}
	return filepath.Join(m.dataRoot, ImagesDir, feedID, "downloads", downloadID+"."+ext), nil
}

// ThumbnailURL returns {base}/images/{feed}/{download}.{ext}.
func (m *Manager) ThumbnailURL(feedID, downloadID, ext string) (string, error) {
	if err := validateTriple(feedID, downloadID, ext); err != nil {
		return "", err
	}
	return m.join(ImagesDir, feedID, downloadID+"."+ext), nil
}

// TranscriptPath returns {root}/transcripts/{feed}/{download}.{lang}.{ext}.
func (m *Manager) TranscriptPath(feedID, downloadID, lang, ext string) (string, error) {
	if err := validateTriple(feedID, downloadID, ext); err != nil {
		return "", err
	}
	if err := ValidateID(lang); err != nil {
		return "", err
	}
	return filepath.Join(m.dataRoot, TranscriptsDir, feedID, downloadID+"."+lang+"."+ext), nil
}

// TranscriptURL returns {base}/transcripts/{feed}/{download}.{lang}.{ext}.
func (m *Manager) TranscriptURL(feedID, downloadID, lang, ext string) (string, error) {
	if err := validateTriple(feedID, downloadID, ext); err != nil {
		return "", err
	}
	if err := ValidateID(lang); err != nil {
		return "", err
	}
	return m.join(TranscriptsDir, feedID, downloadID+"."+lang+"."+ext), nil
}

// FeedXMLPath returns {root}/feeds/{feed}.xml.
func (m *Manager) FeedXMLPath(feedID string) (string, error) {
	if err := ValidateID(feedID); err != nil {
		return "", err
	}
	return filepath.Join(m.dataRoot, FeedsDir, feedID+".xml"), nil
}

// FeedXMLURL returns {base}/feeds/{feed}.xml.
func (m *Manager) FeedXMLURL(feedID string) (string, error) {
	if err := ValidateID(feedID); err != nil {
		return "", err
	}
	return m.join(FeedsDir, feedID+".xml"), nil
}

// DBPath returns {root}/db/{name}.
func (m *Manager) DBPath(name string) (string, error) {
	if err := ValidateID(name); err != nil {
		return "", err
	}
	return filepath.Join(m.dataRoot, DBDir, name), nil
}

// TmpDirFor returns the scratch directory for in-flight downloads of a feed,
// creating it if missing.
func (m *Manager) TmpDirFor(feedID string) (string, error) {
	if err := ValidateID(feedID); err != nil {
		return "", err
	}
	dir := filepath.Join(m.dataRoot, TmpDir, feedID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}
	return dir, nil
}

// TmpFile returns a unique feed-scoped temporary file path. The file is not
// created.
func (m *Manager) TmpFile(feedID string) (string, error) {
	dir, err := m.TmpDirFor(feedID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, uuid.NewString()), nil
}

// EnsureLayout creates all top-level data directories. Idempotent.
func (m *Manager) EnsureLayout() error {
	for _, d := range []string{MediaDir, ImagesDir, TranscriptsDir, FeedsDir, DBDir, TmpDir} {
		if err := os.MkdirAll(filepath.Join(m.dataRoot, d), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", d, err)
		}
	}
	return nil
}

func validateTriple(feedID, downloadID, ext string) error {
	if err := ValidateID(feedID); err != nil {
		return err
	}
	if err := ValidateID(downloadID); err != nil {
		return err
	}
	return validateExt(ext)
}

func (m *Manager) join(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return m.baseURL + "/" + strings.Join(escaped, "/")
}
