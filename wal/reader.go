package wal

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/wkalt/ept/util"
)

// Record is one decoded build-log entry. Exactly one of BatchCommit or
// SourceComplete is non-nil, matching which RecordType was read.
type Record struct {
	Type           RecordType
	BatchCommit    *BatchCommit
	SourceComplete *SourceComplete
}

// Reader scans a build-log file record by record, validating the header and
// each record's CRC32. Grounded in the teacher's walmgr.scanfile: a CRC
// mismatch or a short read at the tail is treated as a clean stopping point
// (the last record was torn by a crash mid-write), not a fatal error — the
// caller gets ErrTornTail (short read) or CRCMismatchError (checksum
// mismatch) and should resume appending after ValidOffset.
type Reader struct {
	r      io.Reader
	offset int64
}

// ErrTornTail is returned by Next when the remaining bytes do not form a
// complete, checksum-valid record: the file ends mid-write.
var ErrTornTail = errors.New("wal: torn tail record")

// NewReader reads and validates the build-log header, returning a Reader
// positioned at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(Magic)+2)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("wal: truncated header: %w", err)
		}
		return nil, fmt.Errorf("read build-log header: %w", err)
	}
	for i, b := range Magic {
		if header[i] != b {
			return nil, ErrBadMagic
		}
	}
	major, minor := header[len(Magic)], header[len(Magic)+1]
	if major > currentMajor {
		return nil, UnsupportedVersionError{Major: major, Minor: minor}
	}
	return &Reader{r: r, offset: int64(len(header))}, nil
}

// ValidOffset is the byte offset just past the last successfully read
// record; a Writer resuming this file should append starting here.
func (r *Reader) ValidOffset() int64 { return r.offset }

// Next reads the next record. It returns io.EOF when the log ends cleanly
// on a record boundary, and ErrTornTail when trailing bytes exist but do
// not form a complete valid record.
func (r *Reader) Next() (Record, error) {
	head := make([]byte, 1+8)
	if _, err := io.ReadFull(r.r, head); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, ErrTornTail
	}
	rectype := RecordType(head[0])
	var length uint64
	util.ReadU64(head[1:], &length)

	body := make([]byte, length+4)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Record{}, ErrTornTail
	}
	data := body[:length]
	var wantCRC uint32
	util.ReadU32(body[length:], &wantCRC)

	full := make([]byte, 0, len(head)+len(data))
	full = append(full, head...)
	full = append(full, data...)
	gotCRC := crc32.ChecksumIEEE(full)
	if gotCRC != wantCRC {
		return Record{}, CRCMismatchError{Expected: wantCRC, Actual: gotCRC}
	}

	rec, err := decodeRecord(rectype, data)
	if err != nil {
		return Record{}, err
	}
	r.offset += int64(len(head)) + int64(len(body))
	return rec, nil
}

func decodeRecord(rectype RecordType, data []byte) (Record, error) {
	switch rectype {
	case RecordBatchCommit:
		bc, err := decodeBatchCommit(data)
		if err != nil {
			return Record{}, err
		}
		return Record{Type: rectype, BatchCommit: &bc}, nil
	case RecordSourceComplete:
		path, _ := readPrefixedString(data)
		return Record{Type: rectype, SourceComplete: &SourceComplete{SourcePath: path}}, nil
	default:
		return Record{}, fmt.Errorf("wal: unknown record type %d", rectype)
	}
}

func decodeBatchCommit(data []byte) (BatchCommit, error) {
	batchID, off := readPrefixedString(data)
	path, adv := readPrefixedString(data[off:])
	off += adv
	if off+8+4 > len(data) {
		return BatchCommit{}, fmt.Errorf("wal: truncated batch-commit record")
	}
	var rawOffset uint64
	off += util.ReadU64(data[off:], &rawOffset)
	readOffset := int64(rawOffset)
	var n uint32
	off += util.ReadU32(data[off:], &n)

	deltas := make([]Delta, 0, n)
	for i := uint32(0); i < n; i++ {
		d, adv := readDelta(data[off:])
		deltas = append(deltas, d)
		off += adv
	}
	return BatchCommit{BatchID: batchID, SourcePath: path, ReadOffset: readOffset, Deltas: deltas}, nil
}

func readPrefixedString(src []byte) (string, int) {
	var s string
	n := util.ReadPrefixedString(src, &s)
	return s, n
}
