// Package source defines the SourceReader contract the builder consumes
// and the per-source status tracked through a build.
package source

import (
	"context"

	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/spatial"
)

// Status is the per-source ingestion state recorded in the manifest.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInserted Status = "inserted"
	StatusError    Status = "error"
)

// Info is the pre-analysis result for one source: its bounds, point count,
// spatial reference, and any errors encountered while scanning it.
type Info struct {
	Bounds     spatial.Bounds `json:"bounds"`
	Points     uint64         `json:"points"`
	SRS        string         `json:"srs,omitempty"`
	Dimensions []string       `json:"dimensions,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// Merge folds other into i, widening bounds and summing counts, used when
// combining running per-worker stats (grounded in the original Entwine
// info accumulator).
func (i *Info) Merge(other Info) {
	if i.Points == 0 {
		*i = other
		return
	}
	i.Bounds = unionBounds(i.Bounds, other.Bounds)
	i.Points += other.Points
	i.Errors = append(i.Errors, other.Errors...)
}

func unionBounds(a, b spatial.Bounds) spatial.Bounds {
	return spatial.NewBounds(
		spatial.Point3{
			X: minf(a.Min.X, b.Min.X),
			Y: minf(a.Min.Y, b.Min.Y),
			Z: minf(a.Min.Z, b.Min.Z),
		},
		spatial.Point3{
			X: maxf(a.Max.X, b.Max.X),
			Y: maxf(a.Max.Y, b.Max.Y),
			Z: maxf(a.Max.Z, b.Max.Z),
		},
	)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Source is one input to a build: its path, pre-analysis info, and current
// ingestion status.
type Source struct {
	Path   string `json:"path"`
	Info   Info   `json:"info"`
	Status Status `json:"status"`
}

// Handle is an open source ready to be read in batches. The underlying
// reader enforces its own locking; Handle's nextBatch is safe for
// concurrent workers pulling from disjoint handles, and single-threaded
// within one handle's lifetime.
type Handle interface {
	// NextBatch returns up to n points; an empty, nil-error result means
	// EOF.
	NextBatch(ctx context.Context, n int) ([]schema.Point, error)
	// Close releases the handle's file resources.
	Close() error
}

// Reader is the black-box external collaborator that decodes a source
// format (LAS/LAZ/CSV/…) into typed point batches. Variant readers are
// selected by Open based on file extension or an explicit pipeline type.
type Reader interface {
	// Open returns a Handle positioned at the start of path (or at
	// resumeOffset, if the builder is resuming a partially-ingested
	// source).
	Open(ctx context.Context, path string, resumeOffset int64) (Handle, error)
	// Info returns the pre-analysis result for path: bounds, count, SRS,
	// and dimension names.
	Info(ctx context.Context, path string) (Info, error)
}
