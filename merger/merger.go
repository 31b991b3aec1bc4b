// Package merger implements the merge phase: folding N completed subset
// builds into a single unified manifest, hierarchy, and chunk namespace.
package merger

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wkalt/ept/cell"
	"github.com/wkalt/ept/chunkstore"
	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/hierarchy"
	"github.com/wkalt/ept/manifest"
	"github.com/wkalt/ept/source"
	"github.com/wkalt/ept/spatial"
	"github.com/wkalt/ept/subset"
	"github.com/wkalt/ept/util"
	"github.com/wkalt/ept/util/log"
)

// Shard names one completed subset build to fold into the merge.
type Shard struct {
	Endpoint endpoint.Endpoint
	Prefix   string
}

// Result summarizes one merge run.
type Result struct {
	Manifest manifest.Manifest
}

// mergedMarkerKey is the per-shard completion marker under the destination
// prefix: its presence lets a re-run skip a shard whose chunks and
// hierarchy entries are already durably merged.
func mergedMarkerKey(dstPrefix string, shardID uint64) string {
	return fmt.Sprintf("%s/ept-merged/%d.done", dstPrefix, shardID)
}

// sharedLevelsMarkerKey gates synthesizeSharedLevels: it mutates the
// shards' own depth-k root chunks in place (trimming points pulled up into
// the newly synthesized shallow levels), so unlike the per-shard chunk
// copy it cannot simply be re-derived from the shards' original output on
// a re-run.
func sharedLevelsMarkerKey(dstPrefix string) string {
	return fmt.Sprintf("%s/ept-merged/shared-levels.done", dstPrefix)
}

// Merge reads every shard's manifest and hierarchy, copies its chunks into
// dst under dstPrefix (renaming away the subset postfix), and writes a
// single unified manifest. Re-running Merge against the same shards and
// destination is idempotent: shards already marked merged are skipped.
func Merge(ctx context.Context, dst endpoint.Endpoint, dstPrefix string, shards []Shard, opts ...Option) (Result, error) {
	if len(shards) == 0 {
		return Result{}, ShardMismatchError{Field: "shards", Want: ">0", Got: "0"}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.threads == 0 {
		cfg.threads = runtime.GOMAXPROCS(0)
	}

	manifests := make([]manifest.Manifest, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.threads)
	for i, sh := range shards {
		i, sh := i, sh
		g.Go(func() error {
			m, err := manifest.Read(gctx, sh.Endpoint, sh.Prefix)
			if err != nil {
				return fmt.Errorf("read manifest for shard %d: %w", i, err)
			}
			if m.Subset == nil {
				return ShardMismatchError{Field: "subset", Want: "non-nil", Got: "nil", Shard: 0}
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if err := validateShardSet(manifests, uint64(len(shards))); err != nil {
		return Result{}, err
	}
	ref := manifests[0]

	merged := hierarchy.New(ref.HierarchyStep)
	var (
		mu    sync.Mutex
		owner = map[spatial.ChunkKey]uint64{}
	)

	g2, gctx2 := errgroup.WithContext(ctx)
	g2.SetLimit(cfg.threads)
	for i, sh := range shards {
		i, sh := i, sh
		g2.Go(func() error {
			shardID := manifests[i].Subset.ID
			marker := mergedMarkerKey(dstPrefix, shardID)
			done, err := dst.Exists(gctx2, marker)
			if err != nil {
				return fmt.Errorf("check merge marker for shard %d: %w", shardID, err)
			}
			if done {
				log.Infof(gctx2, "shard %d chunks already merged, skipping copy", shardID)
			} else {
				if err := mergeChunks(gctx2, dst, dstPrefix, sh); err != nil {
					return fmt.Errorf("merge chunks for shard %d: %w", shardID, err)
				}
				if err := dst.Put(gctx2, marker, []byte("ok")); err != nil {
					return fmt.Errorf("write merge marker for shard %d: %w", shardID, err)
				}
			}
			// Hierarchy entries are read fresh from the shard's own
			// (unmodified) blocks every run, regardless of the chunk-copy
			// marker above: the single flush after g2.Wait needs every
			// shard's contribution in merged/owner each time it runs, and
			// re-reading a shard's own blocks is cheap and idempotent.
			if err := mergeHierarchy(gctx2, sh, shardID, merged, owner, &mu); err != nil {
				return fmt.Errorf("merge hierarchy for shard %d: %w", shardID, err)
			}
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return Result{}, err
	}

	if err := synthesizeSharedLevels(ctx, dst, dstPrefix, ref, manifests, merged); err != nil {
		return Result{}, fmt.Errorf("synthesize shared levels: %w", err)
	}

	// Flushed once, after every shard's hierarchy has been folded in:
	// flushing per-shard from concurrent goroutines let a goroutine holding
	// an earlier, less-complete snapshot of merged overwrite a later one's
	// write of the same block, making the on-disk result depend on
	// scheduling order.
	if err := merged.Flush(ctx, dst, dstPrefix, 0); err != nil {
		return Result{}, fmt.Errorf("flush merged hierarchy: %w", err)
	}

	m := buildManifest(ref, manifests)
	if err := manifest.Write(ctx, dst, dstPrefix, m); err != nil {
		return Result{}, fmt.Errorf("write merged manifest: %w", err)
	}

	return Result{Manifest: m}, nil
}

// validateShardSet checks that every manifest agrees on the fields a single
// sharded build must share, and that the shard IDs given form exactly the
// claimed [1, of] range with no gaps or repeats.
func validateShardSet(manifests []manifest.Manifest, of uint64) error {
	ref := manifests[0]
	seen := make(map[uint64]bool, len(manifests))
	for _, m := range manifests {
		id := m.Subset.ID
		if m.Subset.Of != of {
			return ShardMismatchError{Field: "of", Want: fmt.Sprint(of), Got: fmt.Sprint(m.Subset.Of), Shard: id}
		}
		if seen[id] {
			return ShardMismatchError{Field: "id", Want: "unique", Got: fmt.Sprint(id), Shard: id}
		}
		seen[id] = true
		if m.Bounds != ref.Bounds {
			return ShardMismatchError{Field: "bounds", Want: fmt.Sprint(ref.Bounds), Got: fmt.Sprint(m.Bounds), Shard: id}
		}
		if m.HierarchyStep != ref.HierarchyStep {
			return ShardMismatchError{Field: "hierarchyStep", Want: fmt.Sprint(ref.HierarchyStep), Got: fmt.Sprint(m.HierarchyStep), Shard: id}
		}
		if m.ChunkCapacity != ref.ChunkCapacity {
			return ShardMismatchError{Field: "chunkCapacity", Want: fmt.Sprint(ref.ChunkCapacity), Got: fmt.Sprint(m.ChunkCapacity), Shard: id}
		}
		if m.DataType != ref.DataType {
			return ShardMismatchError{Field: "dataType", Want: string(ref.DataType), Got: string(m.DataType), Shard: id}
		}
	}
	for id := uint64(1); id <= of; id++ {
		if !seen[id] {
			return ShardMismatchError{Field: "id", Want: fmt.Sprintf("coverage of [1,%d]", of), Got: fmt.Sprintf("missing %d", id)}
		}
	}
	return nil
}

// mergeChunks copies every chunk this shard wrote into dst's unpostfixed
// namespace.
func mergeChunks(ctx context.Context, dst endpoint.Endpoint, dstPrefix string, sh Shard) error {
	srcDir := sh.Prefix + "/ept-data/"
	keys, err := sh.Endpoint.List(ctx, srcDir)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	var copiedBytes uint64
	for _, k := range keys {
		base := strings.TrimSuffix(path.Base(k), ".ewck")
		keyStr, _, err := parsePostfixed(base)
		if err != nil {
			return fmt.Errorf("parse chunk name %q: %w", k, err)
		}
		dstKey := fmt.Sprintf("%s/ept-data/%s.ewck", dstPrefix, keyStr)
		data, err := sh.Endpoint.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("read chunk %q: %w", k, err)
		}
		if err := dst.Put(ctx, dstKey, data); err != nil {
			return fmt.Errorf("write chunk %q: %w", dstKey, err)
		}
		copiedBytes += uint64(len(data))
	}
	log.Debugw(ctx, "merged shard chunks", "prefix", sh.Prefix, "count", len(keys), "bytes", util.HumanBytes(copiedBytes))
	return nil
}

// mergeHierarchy reads every hierarchy block this shard wrote, and folds
// its (renamed) entries into merged, recording which shard first claimed
// each key so a later shard claiming the same key raises MergeCollisionError.
func mergeHierarchy(
	ctx context.Context,
	sh Shard,
	shardID uint64,
	merged *hierarchy.Hierarchy,
	owner map[spatial.ChunkKey]uint64,
	mu *sync.Mutex,
) error {
	srcDir := sh.Prefix + "/ept-hierarchy/"
	keys, err := sh.Endpoint.List(ctx, srcDir)
	if err != nil {
		return fmt.Errorf("list hierarchy blocks: %w", err)
	}
	for _, k := range keys {
		base := strings.TrimSuffix(path.Base(k), ".json")
		_, root, err := parsePostfixedKey(base)
		if err != nil {
			return fmt.Errorf("parse hierarchy block name %q: %w", k, err)
		}
		block, err := hierarchy.ReadBlock(ctx, sh.Endpoint, sh.Prefix, root, shardID)
		if err != nil {
			return fmt.Errorf("read hierarchy block %s: %w", root, err)
		}
		mu.Lock()
		for key, count := range block {
			if existing, ok := owner[key]; ok && existing != shardID {
				mu.Unlock()
				return MergeCollisionError{Key: key.String(), FirstShard: existing, SecondShard: shardID}
			}
			owner[key] = shardID
			merged.Set(key, count)
		}
		mu.Unlock()
	}
	return nil
}

// synthesizeSharedLevels builds the depth [0, k) levels that no shard ever
// writes: a sharded build only descends from its own RootKey downward (see
// subset.Owns), so the levels above MinimumNullDepth are absent from every
// shard's output and must be assembled here from the shards' own depth-k
// root chunks, which mergeChunks has already copied into dst unpostfixed.
//
// Each shard's root-chunk points are re-descended from the global root using
// PointKey.StepXY (shared levels split only X/Y, matching subset.splitXY),
// landing in plain capacity-bounded cells keyed by ChunkKey. Points that
// land in a shallow cell are pulled out of the shard's root chunk, which is
// rewritten with only what remains; the synthesized shallow cells are
// written as new chunks and recorded in merged. Gated by
// sharedLevelsMarkerKey since, unlike mergeChunks/mergeHierarchy, this step
// mutates the shards' already-copied root chunks in place and so cannot be
// safely re-run against its own output.
func synthesizeSharedLevels(
	ctx context.Context,
	dst endpoint.Endpoint,
	dstPrefix string,
	ref manifest.Manifest,
	manifests []manifest.Manifest,
	merged *hierarchy.Hierarchy,
) error {
	done, err := dst.Exists(ctx, sharedLevelsMarkerKey(dstPrefix))
	if err != nil {
		return fmt.Errorf("check shared-levels marker: %w", err)
	}
	if done {
		log.Infof(ctx, "shared levels already synthesized, skipping")
		return nil
	}

	sorted := make([]manifest.Manifest, len(manifests))
	copy(sorted, manifests)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Subset.ID < sorted[j].Subset.ID })

	store := chunkstore.New(dst, dstPrefix, ref.Schema, ref.DataType == manifest.DataTypeZstandard)
	shallow := map[spatial.ChunkKey]*cell.Cell{}

	for _, m := range sorted {
		sub, err := subset.New(ref.Bounds, m.Subset.ID, m.Subset.Of)
		if err != nil {
			return fmt.Errorf("reconstruct subset for shard %d: %w", m.Subset.ID, err)
		}
		if sub.MinimumNullDepth() == 0 {
			// Unsharded (of=1): the shard's own root chunk is already the
			// true root, nothing to roll up.
			continue
		}

		root := sub.RootKey()
		points, err := store.Read(ctx, root, 0)
		if err != nil {
			if errors.Is(err, endpoint.ErrNotFound) {
				continue
			}
			return fmt.Errorf("read root chunk for shard %d: %w", m.Subset.ID, err)
		}

		remaining := points[:0]
		for _, p := range points {
			pk := spatial.PointKey{Key: spatial.RootKey, Bounds: ref.Bounds}
			for pk.Depth() < sub.MinimumNullDepth() {
				pk.StepXY(p.Position())
			}
			if pk.Key == root {
				// Still belongs at the shard's own depth-k root; shared
				// levels only absorb points that land strictly above it.
				remaining = append(remaining, p)
				continue
			}
			cl, ok := shallow[pk.Key]
			if !ok {
				cl = cell.New(cell.Overflow, ref.ChunkCapacity)
				shallow[pk.Key] = cl
			}
			if !cl.TryInsert(p) {
				cl.ForceInsert(p)
			}
		}

		if len(remaining) != len(points) {
			if err := store.Write(ctx, root, 0, remaining); err != nil {
				return fmt.Errorf("rewrite root chunk for shard %d: %w", m.Subset.ID, err)
			}
			merged.Set(root, uint64(len(remaining)))
		}
	}

	for key, cl := range shallow {
		points := cl.Points()
		if len(points) == 0 {
			continue
		}
		if err := store.Write(ctx, key, 0, points); err != nil {
			return fmt.Errorf("write synthesized chunk %s: %w", key, err)
		}
		merged.Set(key, uint64(len(points)))
	}

	if err := dst.Put(ctx, sharedLevelsMarkerKey(dstPrefix), []byte("ok")); err != nil {
		return fmt.Errorf("write shared-levels marker: %w", err)
	}
	return nil
}

// parsePostfixed splits a "d-x-y-z" or "d-x-y-z-id" basename into the
// unpostfixed "d-x-y-z" string and the subset id (0 if absent).
func parsePostfixed(base string) (string, uint64, error) {
	parts := strings.Split(base, "-")
	if len(parts) != 4 && len(parts) != 5 {
		return "", 0, fmt.Errorf("malformed key %q", base)
	}
	var id uint64
	if len(parts) == 5 {
		v, err := strconv.ParseUint(parts[4], 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("malformed subset id in %q: %w", base, err)
		}
		id = v
	}
	return strings.Join(parts[:4], "-"), id, nil
}

// parsePostfixedKey is parsePostfixed but returns the decoded ChunkKey
// instead of its re-joined string form.
func parsePostfixedKey(base string) (uint64, spatial.ChunkKey, error) {
	keyStr, id, err := parsePostfixed(base)
	if err != nil {
		return 0, spatial.ChunkKey{}, err
	}
	var d uint32
	var x, y, z uint64
	if _, err := fmt.Sscanf(keyStr, "%d-%d-%d-%d", &d, &x, &y, &z); err != nil {
		return 0, spatial.ChunkKey{}, fmt.Errorf("malformed key %q: %w", keyStr, err)
	}
	return id, spatial.ChunkKey{Depth: d, X: x, Y: y, Z: z}, nil
}

// buildManifest assembles the unified manifest from the reference shard's
// static fields and the sum of every shard's counters. Sources are taken
// from the primary shard (id 1) alone: every shard reads the same full
// source list, so concatenating would duplicate entries.
func buildManifest(ref manifest.Manifest, manifests []manifest.Manifest) manifest.Manifest {
	var totalPoints, outOfBounds, invalid, duplicatePoints uint64
	var primarySources []source.Source
	for _, m := range manifests {
		totalPoints += m.Points
		outOfBounds += m.OutOfBounds
		invalid += m.Invalid
		duplicatePoints += m.DuplicatePoints
		if m.Subset.ID == 1 {
			primarySources = m.Sources
		}
	}
	if primarySources == nil {
		primarySources = manifests[0].Sources
	}

	sorted := make([]source.Source, len(primarySources))
	copy(sorted, primarySources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	return manifest.Manifest{
		Schema:          ref.Schema,
		Bounds:          ref.Bounds,
		Points:          totalPoints,
		SRS:             ref.SRS,
		Span:            ref.Span,
		HierarchyStep:   ref.HierarchyStep,
		ChunkCapacity:   ref.ChunkCapacity,
		DataType:        ref.DataType,
		Version:         ref.Version,
		Sources:         sorted,
		OutOfBounds:     outOfBounds,
		Invalid:         invalid,
		DuplicatePoints: duplicatePoints,
	}
}
