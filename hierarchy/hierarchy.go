// Package hierarchy implements the sparse ChunkKey -> point-count map and
// its partitioning into storable HierarchyBlocks.
package hierarchy

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/maps"

	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/spatial"
)

const blockVersion = uint8(1)

const shardCount = 8

// Hierarchy is the in-memory sparse map, sharded by a hash of the key to
// reduce contention across builder workers writing disjoint subtrees
// concurrently.
type Hierarchy struct {
	step   uint32
	shards [shardCount]shard
}

type shard struct {
	mu     sync.Mutex
	counts map[spatial.ChunkKey]uint64
}

// New returns an empty Hierarchy partitioned into blocks of step depth
// levels.
func New(step uint32) *Hierarchy {
	h := &Hierarchy{step: step}
	for i := range h.shards {
		h.shards[i].counts = map[spatial.ChunkKey]uint64{}
	}
	return h
}

// shardIndex buckets a key by an xxhash of its coordinates, matching the
// teacher's hashed worker-routing scheme rather than a fixed bit mask so
// shard load stays balanced regardless of X/Y/Z parity skew.
func shardIndex(k spatial.ChunkKey) int {
	var buf [20]byte
	binary.LittleEndian.PutUint32(buf[0:4], k.Depth)
	binary.LittleEndian.PutUint64(buf[4:12], k.X)
	binary.LittleEndian.PutUint64(buf[12:20], k.Y)
	h := xxhash.Sum64(buf[:])
	h = h*31 + k.Z
	return int(h % shardCount)
}

// Increment adds delta to key's point count.
func (h *Hierarchy) Increment(key spatial.ChunkKey, delta uint64) {
	s := &h.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key] += delta
}

// Set assigns key's point count directly, overwriting any prior value.
// Used to restore counts from a build log's last-seen values on resume,
// and by the builder to record a cell's authoritative current size after
// a batch touches it.
func (h *Hierarchy) Set(key spatial.ChunkKey, count uint64) {
	s := &h.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key] = count
}

// Count returns key's current point count.
func (h *Hierarchy) Count(key spatial.ChunkKey) uint64 {
	s := &h.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// All returns every non-zero entry as a flat map. Used for flushing and for
// the merger, which needs the whole hierarchy at once.
func (h *Hierarchy) All() map[spatial.ChunkKey]uint64 {
	out := map[spatial.ChunkKey]uint64{}
	for i := range h.shards {
		h.shards[i].mu.Lock()
		for k, v := range h.shards[i].counts {
			if v > 0 {
				out[k] = v
			}
		}
		h.shards[i].mu.Unlock()
	}
	return out
}

// blockRoot returns the key of the block a given key belongs to: depths
// below step route to the root block; deeper keys route to the block
// rooted at the deepest ancestor whose depth is a multiple of step.
func blockRoot(k spatial.ChunkKey, step uint32) spatial.ChunkKey {
	if k.Depth < step || step == 0 {
		return spatial.RootKey
	}
	target := (k.Depth / step) * step
	for k.Depth > target {
		k = k.Parent()
	}
	return k
}

// Block is one serializable partition of the hierarchy; Flush writes its
// entries as the "counts" object of a wireBlock, not as a bare top-level
// "d-x-y-z": count object.
type Block struct {
	Root    spatial.ChunkKey
	Entries map[spatial.ChunkKey]uint64
}

// Partition groups the hierarchy's current entries into blocks by step,
// skipping empty partitions.
func (h *Hierarchy) Partition() []Block {
	all := h.All()
	grouped := map[spatial.ChunkKey]map[spatial.ChunkKey]uint64{}
	for k, v := range all {
		root := blockRoot(k, h.step)
		m, ok := grouped[root]
		if !ok {
			m = map[spatial.ChunkKey]uint64{}
			grouped[root] = m
		}
		m[k] = v
	}
	roots := maps.Keys(grouped)
	sort.Slice(roots, func(i, j int) bool { return roots[i].Less(roots[j]) })

	blocks := make([]Block, 0, len(roots))
	for _, r := range roots {
		blocks = append(blocks, Block{Root: r, Entries: grouped[r]})
	}
	return blocks
}

// key returns the storage key for a block's file.
func key(prefix string, root spatial.ChunkKey, subsetID uint64) string {
	return fmt.Sprintf("%s/ept-hierarchy/%s.json", prefix, root.Postfixed(subsetID))
}

// wireBlock is the on-disk JSON shape: an object holding a "version" number
// and a "counts" object of flat "d-x-y-z": count entries, matching the
// teacher's version-tagged JSON node convention.
type wireBlock struct {
	Version uint8             `json:"version"`
	Counts  map[string]uint64 `json:"counts"`
}

// Flush writes every non-empty block to ep under prefix.
func (h *Hierarchy) Flush(ctx context.Context, ep endpoint.Endpoint, prefix string, subsetID uint64) error {
	for _, b := range h.Partition() {
		wire := wireBlock{Version: blockVersion, Counts: make(map[string]uint64, len(b.Entries))}
		for k, v := range b.Entries {
			wire.Counts[k.String()] = v
		}
		data, err := json.Marshal(wire)
		if err != nil {
			return fmt.Errorf("marshal hierarchy block %s: %w", b.Root, err)
		}
		if err := ep.Put(ctx, key(prefix, b.Root, subsetID), data); err != nil {
			return fmt.Errorf("write hierarchy block %s: %w", b.Root, err)
		}
	}
	return nil
}

// ReadBlock reads and parses one hierarchy block from ep.
func ReadBlock(ctx context.Context, ep endpoint.Endpoint, prefix string, root spatial.ChunkKey, subsetID uint64) (map[spatial.ChunkKey]uint64, error) {
	data, err := ep.Get(ctx, key(prefix, root, subsetID))
	if err != nil {
		return nil, fmt.Errorf("read hierarchy block %s: %w", root, err)
	}
	var wire wireBlock
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse hierarchy block %s: %w", root, err)
	}
	out := make(map[spatial.ChunkKey]uint64, len(wire.Counts))
	for s, v := range wire.Counts {
		k, err := parseKey(s)
		if err != nil {
			return nil, fmt.Errorf("parse hierarchy key %q: %w", s, err)
		}
		out[k] = v
	}
	return out, nil
}

func parseKey(s string) (spatial.ChunkKey, error) {
	var d uint32
	var x, y, z uint64
	_, err := fmt.Sscanf(s, "%d-%d-%d-%d", &d, &x, &y, &z)
	if err != nil {
		return spatial.ChunkKey{}, err
	}
	return spatial.ChunkKey{Depth: d, X: x, Y: y, Z: z}, nil
}
