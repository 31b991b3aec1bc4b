package wal

import (
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/wkalt/ept/util"
)

// Writer appends framed records to an underlying io.Writer, matching the
// teacher's WAL framing: record type, length, payload, trailing CRC32 over
// everything preceding it.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	offset int64
}

// NewWriter wraps w, writing the magic+version header first if initialOffset
// is zero (a fresh file) and trusting the caller's offset otherwise (an
// append to an existing file being resumed).
func NewWriter(w io.Writer, initialOffset int64) (*Writer, error) {
	if initialOffset == 0 {
		header := make([]byte, len(Magic)+2)
		n := copy(header, Magic)
		header[n] = currentMajor
		header[n+1] = currentMinor
		written, err := w.Write(header)
		if err != nil {
			return nil, fmt.Errorf("write build-log header: %w", err)
		}
		initialOffset = int64(written)
	}
	return &Writer{w: w, offset: initialOffset}, nil
}

// WriteBatchCommit appends a batch-commit record.
func (w *Writer) WriteBatchCommit(rec BatchCommit) error {
	size := sizeofPrefixedString(rec.BatchID) + sizeofPrefixedString(rec.SourcePath) + 8 + 4 + len(rec.Deltas)*sizeofDelta()
	data := make([]byte, size)
	off := putPrefixedString(data, rec.BatchID)
	off += putPrefixedString(data[off:], rec.SourcePath)
	off += util.U64(data[off:], uint64(rec.ReadOffset))
	off += util.U32(data[off:], uint32(len(rec.Deltas)))
	for _, d := range rec.Deltas {
		off += putDelta(data[off:], d)
	}
	return w.writeRecord(RecordBatchCommit, data)
}

// WriteSourceComplete appends a source-complete marker.
func (w *Writer) WriteSourceComplete(rec SourceComplete) error {
	data := make([]byte, sizeofPrefixedString(rec.SourcePath))
	putPrefixedString(data, rec.SourcePath)
	return w.writeRecord(RecordSourceComplete, data)
}

func (w *Writer) writeRecord(rectype RecordType, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, 1+8+len(data)+4)
	off := 0
	buf[off] = uint8(rectype)
	off++
	off += util.U64(buf[off:], uint64(len(data)))
	off += copy(buf[off:], data)

	crc := crc32.ChecksumIEEE(buf[:off])
	util.U32(buf[off:], crc)

	n, err := w.w.Write(buf)
	w.offset += int64(n)
	if err != nil {
		return fmt.Errorf("write build-log record: %w", err)
	}
	if f, ok := w.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush build-log: %w", err)
		}
	}
	if f, ok := w.w.(interface{ Sync() error }); ok {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync build-log: %w", err)
		}
	}
	return nil
}
