package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/spatial"
)

// MemReader is an in-process Reader over point slices keyed by path, used
// in tests and as a reference implementation of the SourceReader contract.
type MemReader struct {
	mu   sync.Mutex
	data map[string][]schema.Point
	srs  string
}

// NewMemReader returns a MemReader with no registered sources.
func NewMemReader(srs string) *MemReader {
	return &MemReader{data: map[string][]schema.Point{}, srs: srs}
}

// Add registers points under path.
func (r *MemReader) Add(path string, points []schema.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[path] = points
}

func (r *MemReader) Info(_ context.Context, path string) (Info, error) {
	r.mu.Lock()
	points := r.data[path]
	r.mu.Unlock()
	if points == nil {
		return Info{}, fmt.Errorf("memsource: unknown path %q", path)
	}

	info := Info{SRS: r.srs, Points: uint64(len(points))}
	first := true
	for _, p := range points {
		if !p.IsFinite() {
			continue
		}
		if first {
			info.Bounds = spatial.NewBounds(p.Position(), p.Position())
			first = false
			continue
		}
		info.Bounds = unionBounds(info.Bounds, spatial.NewBounds(p.Position(), p.Position()))
	}
	return info, nil
}

func (r *MemReader) Open(_ context.Context, path string, resumeOffset int64) (Handle, error) {
	r.mu.Lock()
	points := r.data[path]
	r.mu.Unlock()
	if points == nil {
		return nil, fmt.Errorf("memsource: unknown path %q", path)
	}
	return &memHandle{points: points, offset: int(resumeOffset)}, nil
}

type memHandle struct {
	points []schema.Point
	offset int
}

func (h *memHandle) NextBatch(_ context.Context, n int) ([]schema.Point, error) {
	if h.offset >= len(h.points) {
		return nil, nil
	}
	end := h.offset + n
	if end > len(h.points) {
		end = len(h.points)
	}
	batch := h.points[h.offset:end]
	h.offset = end
	return batch, nil
}

func (h *memHandle) Close() error { return nil }
