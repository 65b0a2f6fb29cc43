package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVFS(t *testing.T) *VFS {
	t.Helper()
	v, err := NewVFS(t.TempDir())
	require.NoError(t, err)
	return v
}

func TestVFSWriteReadRoundTrip(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.WriteText("a.txt", "hello"))

	text, err := v.ReadText("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestVFSCreateIsIdempotent(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.Create("a.txt"))
	require.NoError(t, v.Create("a.txt"))
	assert.True(t, v.Exists("a.txt"))
}

func TestVFSMkdirNested(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.Mkdir("x/y/z"))
	assert.True(t, v.IsDir("x/y/z"))
	assert.True(t, v.IsDir("x/y"))
}

func TestVFSSandboxRejectsEscape(t *testing.T) {
	v := newTestVFS(t)
	_, err := v.resolve("../../etc/passwd")
	assert.ErrorIs(t, err, ErrSandboxViolation)

	_, err = v.resolve("a/../../b")
	assert.ErrorIs(t, err, ErrSandboxViolation)
}

func TestVFSSandboxAllowsWithinRoot(t *testing.T) {
	v := newTestVFS(t)
	p, err := v.resolve("a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(v.root, "a", "b", "c.txt"), p)
}

func TestVFSDeleteRecursive(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.WriteText("dir/a.txt", "x"))
	require.NoError(t, v.Delete("dir"))
	assert.False(t, v.Exists("dir"))
}

func TestVFSListDirsBeforeFilesAlphabetical(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.Mkdir("zdir"))
	require.NoError(t, v.Create("afile.txt"))
	require.NoError(t, v.Create("bfile.txt"))

	entries, err := v.List("")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "dir", entries[0].Type)
	assert.Equal(t, "afile.txt", entries[1].Name)
	assert.Equal(t, "bfile.txt", entries[2].Name)
}

func TestVFSChecksumMatchesContent(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.WriteText("a.txt", "hello"))
	sum, err := v.Checksum("a.txt")
	require.NoError(t, err)
	assert.Equal(t, ChecksumBytes([]byte("hello")), sum)
}

func TestVFSGetAllFilesRecursiveForwardSlash(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.WriteText("a/b/c.txt", "x"))
	require.NoError(t, v.WriteText("d.txt", "y"))

	files, err := v.GetAllFiles()
	require.NoError(t, err)
	assert.Contains(t, files, "a/b/c.txt")
	assert.Contains(t, files, "d.txt")
}

func TestVFSStatAggregates(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.WriteText("a.txt", "hello"))
	require.NoError(t, v.Mkdir("dir"))

	st, err := v.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalFiles)
	assert.Equal(t, int64(1), st.TotalDirs)
	assert.Equal(t, int64(5), st.TotalSize)
}

func TestVFSMoveAndCopy(t *testing.T) {
	v := newTestVFS(t)
	require.NoError(t, v.WriteText("src.txt", "payload"))
	require.NoError(t, v.Copy("src.txt", "copy.txt"))
	require.NoError(t, v.Move("src.txt", "moved.txt"))

	assert.False(t, v.Exists("src.txt"))
	text, err := v.ReadText("moved.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", text)

	text, err = v.ReadText("copy.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", text)
}
