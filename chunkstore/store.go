package chunkstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/spatial"
)

// Store is the ChunkStore: a codec plus Endpoint adapter that writes and
// reads serialized chunks under a prefix.
type Store struct {
	ep       endpoint.Endpoint
	prefix   string
	schema   schema.Schema
	compress bool
}

// New returns a Store writing chunks under prefix/ept-data on ep.
func New(ep endpoint.Endpoint, prefix string, s schema.Schema, compress bool) *Store {
	return &Store{ep: ep, prefix: prefix, schema: s, compress: compress}
}

// Key returns the storage key for a chunk, honoring a subset postfix when
// subsetID is non-zero.
func (s *Store) Key(key spatial.ChunkKey, subsetID uint64) string {
	return fmt.Sprintf("%s/ept-data/%s.ewck", s.prefix, key.Postfixed(subsetID))
}

// Write encodes points and puts them at key's chunk path. Writes are full
// object PUTs, atomic at the Endpoint layer, and idempotent when content is
// unchanged.
func (s *Store) Write(ctx context.Context, key spatial.ChunkKey, subsetID uint64, points []schema.Point) error {
	buf, err := Encode(points, s.schema, s.compress)
	if err != nil {
		return fmt.Errorf("encode chunk %s: %w", key, err)
	}
	if err := s.ep.Put(ctx, s.Key(key, subsetID), buf); err != nil {
		return fmt.Errorf("write chunk %s: %w", key, err)
	}
	return nil
}

// Read fetches and decodes the chunk at key. A decode failure surfaces as a
// Corrupt error, which is fatal to the build per the core's error policy.
func (s *Store) Read(ctx context.Context, key spatial.ChunkKey, subsetID uint64) ([]schema.Point, error) {
	data, err := s.ep.Get(ctx, s.Key(key, subsetID))
	if err != nil {
		if errors.Is(err, endpoint.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read chunk %s: %w", key, err)
	}
	points, err := Decode(data, s.schema)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", key, err)
	}
	return points, nil
}

// Exists reports whether a chunk has been written for key.
func (s *Store) Exists(ctx context.Context, key spatial.ChunkKey, subsetID uint64) (bool, error) {
	ok, err := s.ep.Exists(ctx, s.Key(key, subsetID))
	if err != nil {
		return false, fmt.Errorf("stat chunk %s: %w", key, err)
	}
	return ok, nil
}
