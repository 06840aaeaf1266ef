package filemap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantasys/metalgrep/pkg/metalgrep/gpudevice"
)

func TestMapNonexistentFile(t *testing.T) {
	m := New(gpudevice.NewFallbackDevice(), 0)
	err := m.Map(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.False(t, m.Mapped())
}

func TestMapDirectoryRejected(t *testing.T) {
	m := New(gpudevice.NewFallbackDevice(), 0)
	err := m.Map(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIsDirectory)
	assert.False(t, m.Mapped())
}

func TestMapOversizeFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	m := New(gpudevice.NewFallbackDevice(), 5)
	err := m.Map(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.False(t, m.Mapped())
}

func TestMapZeroLengthFileIsNoOpMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m := New(gpudevice.NewFallbackDevice(), 0)
	require.NoError(t, m.Map(path))

	assert.True(t, m.Mapped())
	assert.True(t, m.Empty())
	assert.Equal(t, int64(0), m.Size())

	_, err := m.Buffer()
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestMapAndBufferRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "text.txt")
	content := []byte("abacadaba")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	m := New(gpudevice.NewFallbackDevice(), 0)
	require.NoError(t, m.Map(path))

	assert.True(t, m.Mapped())
	assert.False(t, m.Empty())
	assert.Equal(t, int64(len(content)), m.Size())

	buf, err := m.Buffer()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), buf.Size())

	second, err := m.Buffer()
	require.NoError(t, err)
	assert.Same(t, buf, second)
}

func TestUnmapIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "text.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	m := New(gpudevice.NewFallbackDevice(), 0)
	require.NoError(t, m.Map(path))
	require.NoError(t, m.Unmap())
	assert.False(t, m.Mapped())
	require.NoError(t, m.Unmap())
	assert.False(t, m.Mapped())
}

func TestRemapReplacesPriorMapping(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.txt")
	second := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(first, []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("bb"), 0o644))

	m := New(gpudevice.NewFallbackDevice(), 0)
	require.NoError(t, m.Map(first))
	assert.Equal(t, int64(4), m.Size())

	require.NoError(t, m.Map(second))
	assert.Equal(t, int64(2), m.Size())
}
