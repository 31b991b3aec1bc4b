// Package manifest implements the top-level ept.json document: the single
// source of truth a build or merge writes last, and every reader consults
// first.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/source"
	"github.com/wkalt/ept/spatial"
)

// DataType selects the on-disk chunk encoding.
type DataType string

const (
	DataTypeLaz       DataType = "laz"
	DataTypeBinary    DataType = "binary"
	DataTypeZstandard DataType = "zstandard"
)

// Manifest is the complete build/merge result description.
type Manifest struct {
	Schema        schema.Schema   `json:"schema"`
	Bounds        spatial.Bounds  `json:"bounds"`
	Points        uint64          `json:"points"`
	SRS           string          `json:"srs,omitempty"`
	Span          uint64          `json:"span"`
	HierarchyStep uint32          `json:"hierarchyStep"`
	ChunkCapacity int             `json:"chunkCapacity"`
	DataType      DataType        `json:"dataType"`
	Version       string          `json:"version"`
	Sources       []source.Source `json:"sources"`

	OutOfBounds     uint64 `json:"outOfBounds"`
	Invalid         uint64 `json:"invalid"`
	DuplicatePoints uint64 `json:"duplicatePoints"`

	Subset *SubsetInfo `json:"subset,omitempty"`
}

// SubsetInfo records the shard descriptor this manifest was built under,
// present only on subset build outputs (absent after a merge).
type SubsetInfo struct {
	ID uint64 `json:"id"`
	Of uint64 `json:"of"`
}

// Key is the manifest's well-known storage key under an output prefix.
func Key(prefix string) string {
	return fmt.Sprintf("%s/ept.json", prefix)
}

// Write serializes m and puts it at its well-known key on ep.
func Write(ctx context.Context, ep endpoint.Endpoint, prefix string, m Manifest) error {
	sortSources(m.Sources)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := ep.Put(ctx, Key(prefix), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Read fetches and parses the manifest at prefix.
func Read(ctx context.Context, ep endpoint.Endpoint, prefix string) (Manifest, error) {
	data, err := ep.Get(ctx, Key(prefix))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func sortSources(sources []source.Source) {
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
}
