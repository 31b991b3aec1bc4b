package wal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/spatial"
	"github.com/wkalt/ept/wal"
)

func TestBuildLogCommitAndRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.wal")

	log, state, err := wal.OpenBuildLog(path)
	require.NoError(t, err)
	assert.Empty(t, state.ReadOffsets)
	assert.Empty(t, state.Complete)

	require.NoError(t, log.CommitBatch(wal.BatchCommit{
		SourcePath: "src-a",
		ReadOffset: 4096,
		Deltas: []wal.Delta{
			{Key: spatial.ChunkKey{Depth: 2, X: 1, Y: 2, Z: 3}, Count: 10},
		},
	}))
	require.NoError(t, log.CommitBatch(wal.BatchCommit{
		SourcePath: "src-a",
		ReadOffset: 8192,
	}))
	require.NoError(t, log.CompleteSource("src-b"))
	require.NoError(t, log.Close())

	log2, state2, err := wal.OpenBuildLog(path)
	require.NoError(t, err)
	defer log2.Close()

	assert.Equal(t, int64(8192), state2.ReadOffsets["src-a"])
	assert.True(t, state2.Complete["src-b"])
	assert.False(t, state2.Complete["src-a"])
	assert.Equal(t, uint64(10), state2.HierarchyCounts[spatial.ChunkKey{Depth: 2, X: 1, Y: 2, Z: 3}])
}

func TestBuildLogTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.wal")

	log, _, err := wal.OpenBuildLog(path)
	require.NoError(t, err)
	require.NoError(t, log.CommitBatch(wal.BatchCommit{SourcePath: "src-a", ReadOffset: 100}))
	require.NoError(t, log.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()-2))
	require.NoError(t, f.Close())

	require.NoError(t, appendGarbage(path))

	log2, state, err := wal.OpenBuildLog(path)
	require.NoError(t, err)
	defer log2.Close()

	assert.Empty(t, state.ReadOffsets)

	require.NoError(t, log2.CommitBatch(wal.BatchCommit{SourcePath: "src-c", ReadOffset: 1}))
	require.NoError(t, log2.Close())

	log3, state3, err := wal.OpenBuildLog(path)
	require.NoError(t, err)
	defer log3.Close()
	assert.Equal(t, int64(1), state3.ReadOffsets["src-c"])
}

func appendGarbage(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0xff, 0xff, 0xff})
	return err
}

func TestRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wal")
	require.NoError(t, os.WriteFile(path, []byte("notawal!"), 0o644))

	_, _, err := wal.OpenBuildLog(path)
	require.Error(t, err)
}
