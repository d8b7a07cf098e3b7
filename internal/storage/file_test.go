package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".process_monitor_license")
	b := NewFileBackend(path)

	t.Run("missing file reads as not found", func(t *testing.T) {
		_, err := b.Read(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("write then read", func(t *testing.T) {
		require.NoError(t, b.Write(ctx, []byte("first")))
		got, err := b.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})

	t.Run("overwrite replaces content", func(t *testing.T) {
		require.NoError(t, b.Write(ctx, []byte("second")))
		got, err := b.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, filepath.Base(path), entries[0].Name())
	})

	t.Run("owner only permissions", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("unix permissions")
		}
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("erase removes file", func(t *testing.T) {
		require.NoError(t, b.Erase(ctx))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("erase is idempotent", func(t *testing.T) {
		assert.NoError(t, b.Erase(ctx))
	})
}

func TestFileBackend_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	_, err := NewFileBackend(path).Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileBackend_UnwritableDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "license")
	err := NewFileBackend(path).Write(context.Background(), []byte("data"))
	assert.Error(t, err)
}

func TestFileBackend_Available(t *testing.T) {
	assert.True(t, NewFileBackend("/tmp/x").Available())
	assert.False(t, NewFileBackend("").Available())
}
