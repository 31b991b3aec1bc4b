// Package wal implements the build log: a per-source write-ahead record of
// committed ingestion batches, letting a killed build resume without
// re-reading or re-inserting points it already made durable.
//
// The format mirrors the teacher's dp3wal layout (magic, version, framed
// records with a trailing CRC32) with a record set specific to octree
// ingestion: a batch commit records how far into a source the builder has
// read and the hierarchy deltas that commit produced; a source-complete
// record lets a resumed build skip sources that finished cleanly.
package wal

import (
	"fmt"

	"github.com/wkalt/ept/spatial"
	"github.com/wkalt/ept/util"
)

// Magic identifies a build-log file.
var Magic = []byte{'e', 'w', 'b', 'l'} // nolint:gochecknoglobals

const (
	currentMajor = uint8(0)
	currentMinor = uint8(0)
)

// RecordType tags a build-log record.
type RecordType uint8

const (
	RecordInvalid RecordType = iota
	RecordBatchCommit
	RecordSourceComplete
)

func (r RecordType) String() string {
	switch r {
	case RecordBatchCommit:
		return "batchCommit"
	case RecordSourceComplete:
		return "sourceComplete"
	default:
		return "invalid"
	}
}

// Delta records one ChunkKey's total resident point count as of this
// batch, not an incremental change: cell contents are cumulative for as
// long as a cell stays resident, so the count at the end of a batch that
// touched a key is already the authoritative total. Replaying a log keeps
// only the last-seen Count per key.
type Delta struct {
	Key   spatial.ChunkKey
	Count uint64
}

// BatchCommit records that a builder worker has durably accounted for one
// batch of points: every ChunkKey it touched, with that key's resident
// count as of this batch, and the read cursor the batch advanced to.
// BatchID is an opaque identifier (a UUID in practice) with no meaning to
// replay; it exists purely to correlate this record with the builder's log
// lines for the same batch.
type BatchCommit struct {
	BatchID    string
	SourcePath string
	ReadOffset int64 // cursor into the source after this batch
	Deltas     []Delta
}

// SourceComplete records that a source has been fully ingested;
// OpenBuildLog reports such sources in ResumeState.Complete and the builder
// skips them.
type SourceComplete struct {
	SourcePath string
}

// ErrBadMagic is returned when a build-log file does not begin with Magic.
var ErrBadMagic = fmt.Errorf("wal: bad magic")

// UnsupportedVersionError is returned when a build-log file's version is
// newer than this package understands.
type UnsupportedVersionError struct {
	Major, Minor uint8
}

func (e UnsupportedVersionError) Error() string {
	return fmt.Sprintf("wal: unsupported build-log version %d.%d", e.Major, e.Minor)
}

func (e UnsupportedVersionError) Is(target error) bool {
	_, ok := target.(UnsupportedVersionError)
	return ok
}

// CRCMismatchError is returned when a record's trailing CRC32 does not
// match its contents, indicating a truncated or corrupted write (typically
// from a crash mid-record); OpenBuildLog treats this as the end of valid log
// data rather than a fatal error.
type CRCMismatchError struct {
	Expected, Actual uint32
}

func (e CRCMismatchError) Error() string {
	return fmt.Sprintf("wal: crc mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e CRCMismatchError) Is(target error) bool {
	_, ok := target.(CRCMismatchError)
	return ok
}

func putPrefixedString(dst []byte, s string) int {
	return util.WritePrefixedString(dst, s)
}

func sizeofPrefixedString(s string) int { return 4 + len(s) }

func sizeofDelta() int { return 4 + 8 + 8 + 8 + 8 } // depth + x + y + z + count

func putDelta(dst []byte, d Delta) int {
	off := 0
	off += util.U32(dst[off:], d.Key.Depth)
	off += util.U64(dst[off:], d.Key.X)
	off += util.U64(dst[off:], d.Key.Y)
	off += util.U64(dst[off:], d.Key.Z)
	off += util.U64(dst[off:], d.Count)
	return off
}

func readDelta(src []byte) (Delta, int) {
	off := 0
	var depth uint32
	var x, y, z, count uint64
	off += util.ReadU32(src[off:], &depth)
	off += util.ReadU64(src[off:], &x)
	off += util.ReadU64(src[off:], &y)
	off += util.ReadU64(src[off:], &z)
	off += util.ReadU64(src[off:], &count)
	return Delta{Key: spatial.ChunkKey{Depth: depth, X: x, Y: y, Z: z}, Count: count}, off
}
