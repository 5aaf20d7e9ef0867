package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, root string) *FileStore {
	t.Helper()
	fs, err := Open(root, t.Logf)
	require.NoError(t, err)
	return fs
}

func TestCreateAndGet(t *testing.T) {
	fs := openTestStore(t, t.TempDir())

	first := NewFileBlock("c1", 1, 1000, []byte("hello "))
	require.NoError(t, fs.Create("greeting.txt", first))

	data, err := fs.Get("greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello "), data)

	meta, ok := fs.Metadata("greeting.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(1), meta.Version)
	assert.Equal(t, uint64(6), meta.TotalSize)

	assert.ErrorIs(t, fs.Create("greeting.txt", first), ErrFileExists)
	assert.ErrorIs(t, fs.Create("bad/name", first), ErrBadFilename)

	_, err = fs.Get("missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestAppendBumpsVersionAndDedupes(t *testing.T) {
	fs := openTestStore(t, t.TempDir())
	require.NoError(t, fs.Create("log", NewFileBlock("c1", 1, 1000, []byte("a"))))

	second := NewFileBlock("c2", 1, 2000, []byte("b"))
	require.NoError(t, fs.AppendBlock("log", second))

	meta, _ := fs.Metadata("log")
	assert.Equal(t, uint32(2), meta.Version)
	assert.Len(t, meta.BlockIDs, 2)

	// a replayed append of the same block changes nothing
	require.NoError(t, fs.AppendBlock("log", second))
	meta, _ = fs.Metadata("log")
	assert.Equal(t, uint32(2), meta.Version)
	assert.Len(t, meta.BlockIDs, 2)

	assert.ErrorIs(t, fs.AppendBlock("nofile", second), ErrFileNotFound)
}

func TestPutBlockCreatesFileOnFirstSight(t *testing.T) {
	fs := openTestStore(t, t.TempDir())

	b := NewFileBlock("c1", 1, 1000, []byte("replicated"))
	require.NoError(t, fs.PutBlock("copy", b))
	require.NoError(t, fs.PutBlock("copy", b), "duplicate push is silent")

	data, err := fs.Get("copy")
	require.NoError(t, err)
	assert.Equal(t, []byte("replicated"), data)
}

func TestMergeInstallsLayout(t *testing.T) {
	fs := openTestStore(t, t.TempDir())
	b1 := NewFileBlock("c1", 1, 2000, []byte("second "))
	b2 := NewFileBlock("c2", 1, 1000, []byte("first "))
	require.NoError(t, fs.Create("f", b1))

	// the merged order includes a block this replica never held
	require.NoError(t, fs.Merge("f", []*FileBlock{b2, b1}, 5))

	data, err := fs.Get("f")
	require.NoError(t, err)
	assert.Equal(t, []byte("first second "), data)

	meta, _ := fs.Metadata("f")
	assert.Equal(t, uint32(5), meta.Version)
	assert.Equal(t, []uint64{b2.BlockID, b1.BlockID}, meta.BlockIDs)
}

func TestRecoveryAfterRestart(t *testing.T) {
	root := t.TempDir()
	fs := openTestStore(t, root)
	require.NoError(t, fs.Create("persist.txt", NewFileBlock("c1", 1, 1000, []byte("one "))))
	require.NoError(t, fs.AppendBlock("persist.txt", NewFileBlock("c1", 2, 2000, []byte("two"))))

	reopened := openTestStore(t, root)
	data, err := reopened.Get("persist.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("one two"), data)

	meta, ok := reopened.Metadata("persist.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(2), meta.Version)
}

func TestDeleteRemovesEverything(t *testing.T) {
	root := t.TempDir()
	fs := openTestStore(t, root)
	require.NoError(t, fs.Create("gone", NewFileBlock("c1", 1, 1000, []byte("x"))))
	require.NoError(t, fs.Delete("gone"))
	assert.False(t, fs.Has("gone"))

	// nothing comes back after a restart either
	reopened := openTestStore(t, root)
	assert.False(t, reopened.Has("gone"))

	assert.ErrorIs(t, fs.Delete("gone"), ErrFileNotFound)
}

func TestListSortedByName(t *testing.T) {
	fs := openTestStore(t, t.TempDir())
	for i, name := range []string{"c", "a", "b"} {
		require.NoError(t, fs.Create(name, NewFileBlock("c1", uint32(i+1), 1000, []byte("x"))))
	}
	list := fs.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Filename)
	assert.Equal(t, "b", list[1].Filename)
	assert.Equal(t, "c", list[2].Filename)
}
