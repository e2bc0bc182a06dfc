// SPDX-License-Identifier: MIT

package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicCreatesParentDirs(t *testing.T) {
	m := NewManager()
	path := filepath.Join(t.TempDir(), "feed", "nested", "feed.xml")

	require.NoError(t, m.WriteAtomic(path, []byte("<rss/>")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<rss/>", string(got))
}

func TestWriteAtomicOverwrites(t *testing.T) {
	m := NewManager()
	path := filepath.Join(t.TempDir(), "f.txt")

	require.NoError(t, m.WriteAtomic(path, []byte("one")))
	require.NoError(t, m.WriteAtomic(path, []byte("two")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	m := NewManager()

	deleted, err := m.Delete(filepath.Join(t.TempDir(), "nope.mp4"))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteExisting(t *testing.T) {
	m := NewManager()
	path := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	deleted, err := m.Delete(path)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, m.Exists(path))
}

func TestSize(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 1234), 0o644))

	n, err := m.Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)

	_, err = m.Size(dir)
	assert.Error(t, err)
}

func TestMoveRename(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()
	src := filepath.Join(dir, "tmp.jpg")
	dst := filepath.Join(dir, "sub", "final.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o644))

	require.NoError(t, m.Move(src, dst))

	assert.False(t, m.Exists(src))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(got))
}

func TestCleanIncomplete(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp4.incomplete"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp4.incomplete"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.mp4"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.incomplete"), 0o755))

	removed, err := m.CleanIncomplete(dir, ".incomplete")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, m.Exists(filepath.Join(dir, "keep.mp4")))

	// Directories with the suffix stay.
	info, err := os.Stat(filepath.Join(dir, "sub.incomplete"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCleanIncompleteMissingDir(t *testing.T) {
	m := NewManager()

	removed, err := m.CleanIncomplete(filepath.Join(t.TempDir(), "nope"), ".incomplete")
	require.NoError(t, err)
	assert.Zero(t, removed)
}
