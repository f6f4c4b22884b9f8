// SPDX-License-Identifier: MIT

package files

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveCreatesParentAndWritesAtomically(t *testing.T) {
	s := New()
	target := filepath.Join(t.TempDir(), "feeds", "tech.xml")

	require.NoError(t, s.Save(target, strings.NewReader("<rss/>")))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "<rss/>", string(got))

	// No stray temp files left next to the target.
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveReplacesExistingContent(t *testing.T) {
	s := New()
	target := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, s.Save(target, strings.NewReader("old")))
	require.NoError(t, s.Save(target, strings.NewReader("new")))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestSaveFileCopiesSource(t *testing.T) {
	s := New()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	target := filepath.Join(dir, "out", "dst.bin")
	require.NoError(t, s.SaveFile(target, src))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.True(t, s.Exists(src), "source must remain")
}

func TestOpenReadMissingFile(t *testing.T) {
	s := New()
	_, err := s.OpenRead(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenReadStreamsContent(t *testing.T) {
	s := New()
	target := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, s.Save(target, strings.NewReader("hello")))

	rc, err := s.OpenRead(target)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestDeleteAbsentIsNotAnError(t *testing.T) {
	s := New()
	removed, err := s.Delete(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeleteRemovesFile(t *testing.T) {
	s := New()
	target := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, s.Save(target, strings.NewReader("x")))

	removed, err := s.Delete(target)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.Exists(target))
}

func TestMoveIntoPlace(t *testing.T) {
	s := New()
	dir := t.TempDir()
	staged := filepath.Join(dir, "tmp", "vid1.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(staged), 0o755))
	require.NoError(t, os.WriteFile(staged, []byte("media"), 0o644))

	target := filepath.Join(dir, "media", "tech", "vid1.mp4")
	require.NoError(t, s.MoveIntoPlace(staged, target))

	assert.False(t, s.Exists(staged))
	size, err := s.Size(target)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestSizeMissingFile(t *testing.T) {
	s := New()
	_, err := s.Size(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrNotFound)
}
