package wal

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wkalt/ept/spatial"
	"github.com/wkalt/ept/util"
)

// ResumeState is the outcome of replaying a build log: the read cursor to
// resume each still-incomplete source from, the set of sources that
// completed cleanly, and the last-known resident count for every ChunkKey
// any committed batch touched.
type ResumeState struct {
	// ReadOffsets maps source path to the read cursor of its last
	// committed batch. A source absent from this map has not been
	// started.
	ReadOffsets map[string]int64
	// Complete is the set of source paths marked done by a
	// SourceComplete record.
	Complete map[string]bool
	// HierarchyCounts is the last-seen absolute resident count per
	// ChunkKey across every committed batch, used to restore the
	// in-memory Hierarchy on resume.
	HierarchyCounts map[spatial.ChunkKey]uint64
}

func newResumeState() ResumeState {
	return ResumeState{
		ReadOffsets:     map[string]int64{},
		Complete:        map[string]bool{},
		HierarchyCounts: map[spatial.ChunkKey]uint64{},
	}
}

// BuildLog is a crash-safe record of one build's ingestion progress, backed
// by a single local file. A build opens one BuildLog per output prefix;
// OpenBuildLog replays it on startup, and every committed batch or completed
// source is appended durably before the builder acts on it in memory.
type BuildLog struct {
	f  *os.File
	w  *Writer
	cw *util.CountingWriter
}

// OpenBuildLog opens (creating if necessary) the build log at path,
// replays it to compute ResumeState, and returns a BuildLog ready to
// accept further appends starting from the point replay left off at. If
// the tail of an existing file is torn by a prior crash, it is truncated
// back to the last valid record before appending resumes.
func OpenBuildLog(path string) (*BuildLog, ResumeState, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ResumeState{}, fmt.Errorf("open build log %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ResumeState{}, fmt.Errorf("stat build log %q: %w", path, err)
	}

	state := newResumeState()
	validOffset := int64(0)

	if info.Size() > 0 {
		state, validOffset, err = replay(f)
		if err != nil {
			_ = f.Close()
			return nil, ResumeState{}, err
		}
		if validOffset < info.Size() {
			if err := f.Truncate(validOffset); err != nil {
				_ = f.Close()
				return nil, ResumeState{}, fmt.Errorf("truncate torn build log %q: %w", path, err)
			}
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, ResumeState{}, fmt.Errorf("seek build log %q: %w", path, err)
	}

	cw := util.NewCountingWriter(f)
	w, err := NewWriter(cw, validOffset)
	if err != nil {
		_ = f.Close()
		return nil, ResumeState{}, err
	}

	return &BuildLog{f: f, w: w, cw: cw}, state, nil
}

// BytesWritten returns the number of build-log bytes appended since this
// BuildLog was opened, for periodic progress logging.
func (b *BuildLog) BytesWritten() int {
	return b.cw.Count()
}

func replay(f *os.File) (ResumeState, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ResumeState{}, 0, fmt.Errorf("seek build log: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		return ResumeState{}, 0, err
	}

	state := newResumeState()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, ErrTornTail) {
			break
		}
		var crcErr CRCMismatchError
		if errors.As(err, &crcErr) {
			break
		}
		if err != nil {
			return ResumeState{}, 0, err
		}
		switch rec.Type {
		case RecordBatchCommit:
			state.ReadOffsets[rec.BatchCommit.SourcePath] = rec.BatchCommit.ReadOffset
			for _, d := range rec.BatchCommit.Deltas {
				state.HierarchyCounts[d.Key] = d.Count
			}
		case RecordSourceComplete:
			state.Complete[rec.SourceComplete.SourcePath] = true
		}
	}
	return state, r.ValidOffset(), nil
}

// CommitBatch durably appends a batch-commit record. The builder must call
// this after writing the batch's chunks to the chunk store and before
// applying the batch's deltas to its in-memory hierarchy view, so that a
// crash between the two never loses a committed write.
func (b *BuildLog) CommitBatch(rec BatchCommit) error {
	return b.w.WriteBatchCommit(rec)
}

// CompleteSource durably appends a source-complete marker.
func (b *BuildLog) CompleteSource(path string) error {
	return b.w.WriteSourceComplete(SourceComplete{SourcePath: path})
}

// Close closes the underlying file.
func (b *BuildLog) Close() error {
	return b.f.Close()
}
