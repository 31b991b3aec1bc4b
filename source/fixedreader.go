package source

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wkalt/ept/chunkstore"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/spatial"
	"github.com/wkalt/ept/util"
)

// FixedReader is a Reader over local files holding raw, unheadered
// fixed-width point records in schema row order (the same per-point wire
// layout chunkstore.Encode uses for a chunk body, minus the chunk
// header/compression) — a flat binary point dump, the simplest possible
// on-disk source format. Scanning never loads a whole file into memory:
// NextBatch reads exactly the records it returns, and resumeOffset is a
// byte offset validated to fall on a record boundary.
type FixedReader struct {
	schema schema.Schema
}

// NewFixedReader returns a FixedReader whose records are packed under s.
func NewFixedReader(s schema.Schema) *FixedReader {
	return &FixedReader{schema: s}
}

// Info scans path once to report its point count and bounds.
func (r *FixedReader) Info(ctx context.Context, path string) (Info, error) {
	h, err := r.Open(ctx, path, 0)
	if err != nil {
		return Info{}, err
	}
	defer h.Close()

	info := Info{}
	first := true
	for {
		batch, err := h.NextBatch(ctx, 4096)
		if err != nil {
			return Info{}, err
		}
		if len(batch) == 0 {
			break
		}
		info.Points += uint64(len(batch))
		for _, p := range batch {
			if !p.IsFinite() {
				continue
			}
			b := spatial.NewBounds(p.Position(), p.Position())
			if first {
				info.Bounds = b
				first = false
				continue
			}
			info.Bounds = unionBounds(info.Bounds, b)
		}
	}
	return info, nil
}

// Open positions a Handle at resumeOffset, which must be a multiple of the
// record size.
func (r *FixedReader) Open(_ context.Context, path string, resumeOffset int64) (Handle, error) {
	recSize := r.schema.PointSize()
	if recSize == 0 {
		return nil, fmt.Errorf("fixedreader: schema has zero-width points")
	}
	if resumeOffset%int64(recSize) != 0 {
		return nil, fmt.Errorf("fixedreader: resume offset %d is not a record boundary (record size %d)", resumeOffset, recSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fixedreader: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fixedreader: stat %s: %w", path, err)
	}

	length := int(info.Size()) - int(resumeOffset)
	if length < 0 {
		f.Close()
		return nil, fmt.Errorf("fixedreader: resume offset %d past end of %s", resumeOffset, path)
	}
	rsc, err := util.NewReadSeekCloserAt(f, int(resumeOffset), length)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fixedreader: seek %s: %w", path, err)
	}
	return &fixedHandle{rsc: rsc, schema: r.schema, recSize: recSize}, nil
}

type fixedHandle struct {
	rsc     io.ReadSeekCloser
	schema  schema.Schema
	recSize int
}

func (h *fixedHandle) NextBatch(_ context.Context, n int) ([]schema.Point, error) {
	buf := make([]byte, n*h.recSize)
	read, err := io.ReadFull(h.rsc, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("fixedreader: read batch: %w", err)
	}
	whole := read / h.recSize
	points := make([]schema.Point, whole)
	for i := range points {
		points[i] = chunkstore.UnpackPoint(buf[i*h.recSize:], h.schema)
	}
	return points, nil
}

func (h *fixedHandle) Close() error { return h.rsc.Close() }
