package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "meshnode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalAddFileInsertsWithVersion1(t *testing.T) {
	j := newTestJournal(t)
	rec, err := j.AddFile("a.txt", "abc123", 3, "node-a", "create")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, rec.CreatedTime, rec.ModifiedTime)
}

func TestJournalVersionMonotonicity(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.AddFile("a.txt", "v1", 1, "node-a", "create")
	require.NoError(t, err)
	rec, err := j.AddFile("a.txt", "v2", 2, "node-a", "modify")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	rec, err = j.AddFile("a.txt", "v3", 3, "node-a", "modify")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
}

func TestJournalGetFileExcludesTombstones(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.AddFile("a.txt", "v1", 1, "node-a", "create")
	require.NoError(t, err)
	require.NoError(t, j.DeleteFile("a.txt", "node-a"))

	rec, err := j.GetFile("a.txt")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestJournalGetAllFilesExcludesTombstonesOrderedByPath(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.AddFile("b.txt", "v1", 1, "node-a", "create")
	require.NoError(t, err)
	_, err = j.AddFile("a.txt", "v1", 1, "node-a", "create")
	require.NoError(t, err)
	_, err = j.AddFile("c.txt", "v1", 1, "node-a", "create")
	require.NoError(t, err)
	require.NoError(t, j.DeleteFile("c.txt", "node-a"))

	all, err := j.GetAllFiles()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a.txt", all[0].Filepath)
	assert.Equal(t, "b.txt", all[1].Filepath)
}

func TestJournalOperationHistoryIncludesTombstones(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.AddFile("a.txt", "v1", 1, "node-a", "create")
	require.NoError(t, err)
	require.NoError(t, j.DeleteFile("a.txt", "node-a"))

	history, err := j.GetOperationHistory(10, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsDeleted)
}

func TestJournalGetFileVersionZeroWhenMissing(t *testing.T) {
	j := newTestJournal(t)
	v, err := j.GetFileVersion("nope.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestJournalCompareMetadata(t *testing.T) {
	j := newTestJournal(t)
	same, err := j.AddFile("same.txt", "x", 1, "node-a", "create")
	require.NoError(t, err)
	_, err = j.AddFile("stale.txt", "x", 1, "node-a", "create")
	require.NoError(t, err)

	remote := []PathRecord{
		{Filepath: "same.txt", Version: 1, ModifiedTime: same.ModifiedTime},
		{Filepath: "stale.txt", Version: 5},
		{Filepath: "new-on-remote.txt", Version: 1},
	}
	cmp, err := j.CompareMetadata(remote)
	require.NoError(t, err)
	assert.Contains(t, cmp.Missing, "new-on-remote.txt")
	assert.Contains(t, cmp.Outdated, "stale.txt")
	assert.NotContains(t, cmp.Outdated, "same.txt")
	assert.NotContains(t, cmp.Newer, "same.txt")
}

func TestJournalLogSyncAndHistory(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.LogSync("a", "b", "f.txt", "sync_file", "success", "")
	require.NoError(t, err)
	_, err = j.LogSync("a", "b", "g.txt", "sync_file", "failed", "integrity mismatch")
	require.NoError(t, err)

	history, err := j.GetSyncHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "g.txt", history[0].Filepath) // most recent first
}

func TestJournalStats(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.AddFile("a.txt", "x", 10, "node-a", "create")
	require.NoError(t, err)
	_, err = j.LogSync("a", "b", "a.txt", "sync_file", "success", "")
	require.NoError(t, err)

	stats, err := j.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalFiles)
	assert.Equal(t, int64(10), stats.TotalSize)
	assert.Equal(t, int64(1), stats.RecentSyncs)
}
