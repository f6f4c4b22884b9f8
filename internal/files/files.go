// SPDX-License-Identifier: MIT

// Package files owns every file mutation under the data root. All writes go
// through renameio so a concurrent reader observes either a complete file or
// no file at all.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/podlift/podlift/internal/log"
)

// ErrNotFound is returned by OpenRead when the file does not exist.
var ErrNotFound = errors.New("file not found")

// Store performs atomic file operations. Safe for concurrent use.
type Store struct{}

// New returns a file store.
func New() *Store { return &Store{} }

// Save writes the contents of r to target atomically: a sibling temp file is
// written, fsynced, then renamed over target.
func (s *Store) Save(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(target)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := log.WithComponent("files")
			logger.Debug().Err(err).Str(log.FieldPath, target).Msg("cleanup pending file")
		}
	}()

	if _, err := io.Copy(pending, r); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", filepath.Base(target), err)
	}
	return nil
}

// SaveFile copies the file at source into target atomically. The source is
// left untouched.
func (s *Store) SaveFile(target, source string) error {
	f, err := os.Open(source) // #nosec G304 -- callers pass validated paths
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.Save(target, f)
}

// Exists reports whether a regular file exists at path.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// OpenRead opens the file at path for streaming reads. Returns ErrNotFound
// when the file does not exist.
func (s *Store) OpenRead(path string) (io.ReadCloser, error) {
	f, err := os.Open(path) // #nosec G304 -- callers pass validated paths
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// Delete removes the file at path. Returns whether a file was removed; an
// already-absent file is not an error.
func (s *Store) Delete(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("delete %s: %w", path, err)
}

// MoveIntoPlace renames a staged file from the tmp area to its canonical
// target. Both paths must live on the same filesystem; the rename is atomic.
func (s *Store) MoveIntoPlace(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Rename(source, target); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

// Size returns the size of the file at path, or an error if it does not
// exist.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}
