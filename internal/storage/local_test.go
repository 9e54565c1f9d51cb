package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStorage(LocalConfig{BasePath: dir}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s, dir
}

func TestLocalStorage_PutGet(t *testing.T) {
	s, dir := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "state/doc.json", strings.NewReader(`{"v":1}`), PutOptions{}))
	require.NoError(t, s.Put(ctx, "state/doc.json", strings.NewReader(`{"v":2}`), PutOptions{Overwrite: true}))

	rc, info, err := s.Get(ctx, "state/doc.json")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(body))
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, "application/json", info.ContentType)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStorage_PutWithoutOverwrite(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.json", strings.NewReader("1"), PutOptions{}))
	err := s.Put(ctx, "a.json", strings.NewReader("2"), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestLocalStorage_TooLargeKeepsPrevious(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a.json", strings.NewReader("old"), PutOptions{}))
	err := s.Put(ctx, "a.json", strings.NewReader("much too long"), PutOptions{Overwrite: true, MaxSize: 4})
	assert.ErrorIs(t, err, ErrTooLarge)

	rc, _, err := s.Get(ctx, "a.json")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "old", string(body))
}

func TestLocalStorage_Missing(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	_, _, err := s.Get(ctx, "missing.json")
	assert.True(t, IsNotFound(err))

	ok, err := s.Exists(ctx, "missing.json")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete(ctx, "missing.json"))
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s, _ := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape.json", "a/../../escape.json"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestIsAllowedFrameType(t *testing.T) {
	assert.True(t, IsAllowedFrameType("image/jpeg"))
	assert.True(t, IsAllowedFrameType("IMAGE/PNG; charset=binary"))
	assert.False(t, IsAllowedFrameType("image/heic"))
	assert.False(t, IsAllowedFrameType("application/pdf"))
}
