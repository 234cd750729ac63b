package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(ctx, "projects/proj-1.json")
	requireNotFound(t, err)

	require.NoError(t, s.Write(ctx, "projects/proj-1.json", []byte(`{"id":"proj-1"}`)))

	data, err := s.Read(ctx, "projects/proj-1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"proj-1"}`, string(data))

	exists, err := s.Exists(ctx, "projects/proj-1.json")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "projects/proj-1.json"))
	requireNotFound(t, s.Delete(ctx, "projects/proj-1.json"))

	exists, err = s.Exists(ctx, "projects/proj-1.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalWriteOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "a.json", []byte("one")))
	require.NoError(t, s.Write(ctx, "a.json", []byte("two")))

	data, err := s.Read(ctx, "a.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestLocalList(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocal(root)
	require.NoError(t, err)

	paths, err := s.List(ctx, "tasks")
	require.NoError(t, err)
	assert.Empty(t, paths)

	require.NoError(t, s.Write(ctx, "tasks/task-1.json", []byte("{}")))
	require.NoError(t, s.Write(ctx, "tasks/task-2.json", []byte("{}")))
	// Leftover temp files from an interrupted write are not entities.
	require.NoError(t, os.WriteFile(filepath.Join(root, "tasks", "task-3.json.tmp"), []byte("{"), 0o644))

	paths, err = s.List(ctx, "tasks")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tasks/task-1.json", "tasks/task-2.json"}, paths)
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
}
