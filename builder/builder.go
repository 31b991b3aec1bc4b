// Package builder implements the point ingestion algorithm: reading
// sources through a worker pool, descending each point through the
// ChunkCache to its resting Cell, and writing the resulting chunks,
// hierarchy, and manifest to an Endpoint.
package builder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wkalt/ept/cell"
	"github.com/wkalt/ept/chunkcache"
	"github.com/wkalt/ept/chunkstore"
	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/hierarchy"
	"github.com/wkalt/ept/manifest"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/source"
	"github.com/wkalt/ept/spatial"
	"github.com/wkalt/ept/subset"
	"github.com/wkalt/ept/util"
	"github.com/wkalt/ept/util/log"
	"github.com/wkalt/ept/wal"
)

const defaultBatchSize = 2000

// Builder runs one build: it owns the ChunkCache, Hierarchy, and build log
// for an output prefix, and drives a worker pool over a set of input
// sources. Shared mutable state is confined to the cache (which does its
// own fine-grained locking), the hierarchy (sharded), and a handful of
// atomic counters; no other state is touched by more than one worker at a
// time.
type Builder struct {
	cfg config

	ep     endpoint.Endpoint
	prefix string
	reader source.Reader
	subset *subset.Subset

	cache *chunkcache.Cache
	store *chunkstore.Store
	hier  *hierarchy.Hierarchy

	rootBounds  spatial.Bounds
	baseDepth   uint32
	startKey    spatial.ChunkKey
	startBounds spatial.Bounds

	outOfBounds     atomic.Uint64
	invalid         atomic.Uint64
	duplicatePoints atomic.Uint64

	evictSince atomic.Int64
}

// New constructs a Builder over ep/prefix, deriving root bounds from the
// union of the given sources' Info unless WithGlobalBounds overrides it.
func New(
	ctx context.Context,
	ep endpoint.Endpoint,
	prefix string,
	reader source.Reader,
	sourcePaths []string,
	opts ...Option,
) (*Builder, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.threads == 0 {
		cfg.threads = runtime.GOMAXPROCS(0)
	}
	if cfg.buildLogDir == "" {
		return nil, InvalidInputError{Reason: "build log directory not specified"}
	}

	var sub *subset.Subset
	if cfg.subsetOf != 0 {
		if !cfg.haveGlobalBounds {
			return nil, InvalidInputError{Reason: "subset build requires WithGlobalBounds"}
		}
		s, err := subset.New(cfg.globalBounds, cfg.subsetID, cfg.subsetOf)
		if err != nil {
			return nil, InvalidInputError{Reason: err.Error()}
		}
		sub = s
	}

	rootBounds := cfg.globalBounds
	if !cfg.haveGlobalBounds {
		b, err := deriveBounds(ctx, reader, sourcePaths)
		if err != nil {
			return nil, err
		}
		rootBounds = b
	}

	store := chunkstore.New(ep, prefix, cfg.schema, cfg.compress)

	baseDepth := uint32(0)
	if cfg.baseCapacity > 0 {
		baseDepth = baseDepthFor(cfg.chunkCapacity)
		if baseDepth > 3 {
			baseDepth = 3
		}
	}

	cache := chunkcache.New(chunkcache.Config{
		Store:         store,
		SoftCap:       cfg.softCap,
		ChunkCapacity: cfg.chunkCapacity,
		BaseCapacity:  cfg.baseCapacity,
		SubsetID:      cfg.subsetID,
	})

	b := &Builder{
		cfg:        cfg,
		ep:         ep,
		prefix:     prefix,
		reader:     reader,
		subset:     sub,
		cache:      cache,
		store:      store,
		hier:       hierarchy.New(cfg.hierarchyStep),
		rootBounds: rootBounds,
		baseDepth:  baseDepth,
	}

	if sub != nil {
		b.startKey = sub.RootKey()
		b.startBounds = subsetStartBounds(rootBounds, sub)
	} else {
		b.startKey = spatial.RootKey
		b.startBounds = rootBounds
	}

	return b, nil
}

// subsetStartBounds returns the exact Bounds of sub.RootKey() within global,
// for seeding PointKey descent. sub.Bounds() (m_sub) already gives the
// correct X/Y quadrant — that's exactly how subset.New derived it — but
// keeps the full global Z range, since subsets split only X/Y. RootKey's Z
// is 0 at depth k, and PointKey.Step halves whichever axis Bounds carries
// on every step regardless of whether a real split happened on it, so the
// Z component must instead be the bottom 1/2^k slice of global Z to match
// what depth k, Z=0 actually denotes; using m_sub's full Z range here would
// make every subsequent Step's Z octant test compare against the wrong
// midpoint.
func subsetStartBounds(global spatial.Bounds, sub *subset.Subset) spatial.Bounds {
	b := sub.Bounds()
	k := sub.MinimumNullDepth()
	zSpan := (global.Max.Z - global.Min.Z) / float64(uint64(1)<<k)
	b.Min.Z = global.Min.Z
	b.Max.Z = global.Min.Z + zSpan
	return b
}

// baseDepthFor returns the shallowest depth at which a single cell's
// octant count could plausibly hold capacity points without descending
// further, used as a default for how many levels use base (reserved
// overflow) cells.
func baseDepthFor(capacity int) uint32 {
	d := uint32(0)
	for cellsAtDepth(d) < uint64(capacity) {
		d++
	}
	return d
}

func cellsAtDepth(d uint32) uint64 { return uint64(1) << (3 * d) }

func deriveBounds(ctx context.Context, reader source.Reader, paths []string) (spatial.Bounds, error) {
	if len(paths) == 0 {
		return spatial.Bounds{}, InvalidInputError{Reason: "no input sources"}
	}
	var union source.Info
	for _, p := range paths {
		info, err := reader.Info(ctx, p)
		if err != nil {
			return spatial.Bounds{}, InvalidInputError{Reason: fmt.Sprintf("inspect %q: %v", p, err)}
		}
		union.Merge(info)
	}
	if union.Points == 0 {
		return spatial.Bounds{}, InvalidInputError{Reason: "sources contain no points"}
	}
	return union.Bounds.GrowBy(0.01).Cube(), nil
}

// Result summarizes one Run.
type Result struct {
	Manifest manifest.Manifest
}

// Run ingests every path in sourcePaths, resuming from any existing build
// log under cfg.buildLogDir, and writes the final manifest and hierarchy
// once every source has been processed.
func (b *Builder) Run(ctx context.Context, sourcePaths []string) (Result, error) {
	buildLog, resume, err := wal.OpenBuildLog(filepath.Join(b.cfg.buildLogDir, "build.ewbl"))
	if err != nil {
		return Result{}, fmt.Errorf("open build log: %w", err)
	}
	defer buildLog.Close()

	if b.cfg.resetFiles {
		resume = wal.ResumeState{
			ReadOffsets:     map[string]int64{},
			Complete:        map[string]bool{},
			HierarchyCounts: map[spatial.ChunkKey]uint64{},
		}
	} else {
		for key, count := range resume.HierarchyCounts {
			b.hier.Set(key, count)
		}
		if len(resume.Complete) > 0 {
			log.Infow(ctx, "resuming build log", "alreadyComplete", util.Okeys(resume.Complete))
		}
	}

	sources := make([]*source.Source, 0, len(sourcePaths))
	pending := make(chan *source.Source, len(sourcePaths))
	for _, p := range sourcePaths {
		s := &source.Source{Path: p, Status: source.StatusPending}
		if resume.Complete[p] {
			s.Status = source.StatusInserted
		}
		sources = append(sources, s)
		if s.Status != source.StatusInserted {
			pending <- s
		}
	}
	close(pending)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.cfg.threads; i++ {
		g.Go(func() error {
			for src := range pending {
				resumeOffset := resume.ReadOffsets[src.Path]
				err := b.ingestSource(gctx, buildLog, src, resumeOffset)
				switch {
				case err == nil:
					mu.Lock()
					src.Status = source.StatusInserted
					mu.Unlock()
				case errors.Is(err, CancelledError{}):
					// Cancellation aborts the whole run rather than just
					// this source: other workers are racing the same
					// context, and a partial manifest would misreport
					// sources that never got a chance to run.
					return err
				default:
					mu.Lock()
					src.Status = source.StatusError
					src.Info.Errors = append(src.Info.Errors, err.Error())
					mu.Unlock()
					log.Errorf(gctx, "source %s failed: %v", src.Path, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if err := b.cache.Drain(ctx); err != nil {
		return Result{}, fmt.Errorf("drain cache: %w", err)
	}
	if err := b.hier.Flush(ctx, b.ep, b.prefix, b.cfg.subsetID); err != nil {
		return Result{}, fmt.Errorf("flush hierarchy: %w", err)
	}

	var totalPoints uint64
	for _, count := range b.hier.All() {
		totalPoints += count
	}

	m := manifest.Manifest{
		Schema:          b.cfg.schema,
		Bounds:          b.rootBounds,
		Points:          totalPoints,
		Span:            uint64(b.cfg.span),
		HierarchyStep:   b.cfg.hierarchyStep,
		ChunkCapacity:   b.cfg.chunkCapacity,
		DataType:        dataType(b.cfg.compress),
		Version:         "1",
		Sources:         derefSources(sources),
		OutOfBounds:     b.outOfBounds.Load(),
		Invalid:         b.invalid.Load(),
		DuplicatePoints: b.duplicatePoints.Load(),
	}
	if b.subset != nil {
		m.Subset = &manifest.SubsetInfo{ID: b.subset.ID(), Of: b.subset.Of()}
	}
	if err := manifest.Write(ctx, b.ep, b.prefix, m); err != nil {
		return Result{}, fmt.Errorf("write manifest: %w", err)
	}

	return Result{Manifest: m}, nil
}

func dataType(compress bool) manifest.DataType {
	if compress {
		return manifest.DataTypeZstandard
	}
	return manifest.DataTypeBinary
}

func derefSources(sources []*source.Source) []source.Source {
	out := make([]source.Source, len(sources))
	for i, s := range sources {
		out[i] = *s
	}
	return out
}

// ingestSource reads src in batches from resumeOffset, descending each
// point through the cache and committing durable progress to the build
// log after every batch.
func (b *Builder) ingestSource(ctx context.Context, buildLog *wal.BuildLog, src *source.Source, resumeOffset int64) error {
	handle, err := b.reader.Open(ctx, src.Path, resumeOffset)
	if err != nil {
		return fmt.Errorf("open %q: %w", src.Path, err)
	}
	defer handle.Close()

	clip := chunkcache.NewClipper(b.cache)
	offset := resumeOffset

	for {
		if err := ctx.Err(); err != nil {
			clip.Clip()
			return CancelledError{}
		}

		points, err := handle.NextBatch(ctx, defaultBatchSize)
		if err != nil {
			return fmt.Errorf("read batch from %q: %w", src.Path, err)
		}
		if len(points) == 0 {
			break
		}

		touched := map[spatial.ChunkKey]*cell.Cell{}
		for _, p := range points {
			b.insertPoint(ctx, clip, touched, p)
		}
		if err := ctx.Err(); err != nil {
			clip.Clip()
			return CancelledError{}
		}
		offset += int64(len(points))

		// A committed batch must already be durable: the cache only
		// flushes touched cells to the store on eviction, which may not
		// happen for many more batches, so every cell this batch touched
		// is checkpointed here before the commit record advances the
		// read offset past it. Writes are full-object PUTs, so
		// checkpointing the same key repeatedly is just a later PUT
		// winning.
		deltaSlice := make([]wal.Delta, 0, len(touched))
		for k, cl := range touched {
			if err := b.store.Write(ctx, k, b.cfg.subsetID, cl.Points()); err != nil {
				return fmt.Errorf("checkpoint chunk %s: %w", k, err)
			}
			deltaSlice = append(deltaSlice, wal.Delta{Key: k, Count: uint64(cl.Size())})
		}
		batchID := uuid.New().String()
		if err := buildLog.CommitBatch(wal.BatchCommit{
			BatchID:    batchID,
			SourcePath: src.Path,
			ReadOffset: offset,
			Deltas:     deltaSlice,
		}); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		for _, d := range deltaSlice {
			b.hier.Set(d.Key, d.Count)
		}
		clip.Clip()
		log.Debugw(ctx, "committed batch", "batch", batchID, "source", src.Path, "offset", offset, "buildLogBytes", buildLog.BytesWritten())

		if b.evictSince.Add(int64(len(points))) >= int64(b.cfg.evictInterval) {
			b.evictSince.Store(0)
			if err := b.cache.Evict(ctx); err != nil {
				return fmt.Errorf("evict: %w", err)
			}
		}
	}

	if err := buildLog.CompleteSource(src.Path); err != nil {
		return fmt.Errorf("mark source complete: %w", err)
	}
	return nil
}

// insertPoint descends p from the builder's start key to its resting
// cell: acquire, try insert, step deeper on failure, force insert past
// maxDepth. touched records every cell a point in this batch
// came to rest in, keyed by ChunkKey, so the caller can read each one's
// authoritative size once at batch end. Acquire failures (only possible
// via context cancellation) are swallowed here; the caller re-checks
// ctx.Err() after the batch to report cancellation once.
func (b *Builder) insertPoint(
	ctx context.Context,
	clip *chunkcache.Clipper,
	touched map[spatial.ChunkKey]*cell.Cell,
	p schema.Point,
) {
	// In a subset build every shard reads the full source list, so
	// outOfBounds/invalid are only tallied by the primary shard (id 1) to
	// avoid counting the same rejected point once per shard.
	countRejects := b.subset == nil || b.subset.Primary()

	if !p.IsFinite() {
		if countRejects {
			b.invalid.Add(1)
		}
		return
	}
	if !b.rootBounds.Contains(p.Position()) {
		if countRejects {
			b.outOfBounds.Add(1)
		}
		return
	}
	if b.subset != nil && !b.subset.Bounds().Contains(p.Position()) {
		// Outside this shard's owned XY quadrant: another shard is
		// responsible for it.
		return
	}
	pk := spatial.PointKey{Key: b.startKey, Bounds: b.startBounds}
	b.descend(ctx, clip, touched, pk, p)
}

func (b *Builder) descend(
	ctx context.Context,
	clip *chunkcache.Clipper,
	touched map[spatial.ChunkKey]*cell.Cell,
	pk spatial.PointKey,
	p schema.Point,
) {
	for {
		base := pk.Depth() < b.baseDepth
		var (
			cl  *cell.Cell
			err error
		)
		if base {
			cl, err = b.cache.AcquireBase(ctx, pk.Key)
		} else {
			cl, err = b.cache.Acquire(ctx, pk.Key)
		}
		if err != nil {
			// Context cancelled mid-descent: drop the point silently,
			// the caller reports cancellation once per batch.
			return
		}
		clip.Mark(pk.Key)

		if pk.Depth() >= b.cfg.maxDepth {
			wasForced := cl.Forced()
			cl.ForceInsert(p)
			if wasForced {
				b.duplicatePoints.Add(1)
			}
			touched[pk.Key] = cl
			return
		}

		if cl.TryInsert(p) {
			touched[pk.Key] = cl
			if base {
				b.drainOverflow(ctx, clip, touched, pk, cl)
			}
			return
		}

		pk.Step(p.Position())
	}
}

// drainOverflow re-descends a base cell's spilled reserved-overflow
// points one level deeper each.
func (b *Builder) drainOverflow(
	ctx context.Context,
	clip *chunkcache.Clipper,
	touched map[spatial.ChunkKey]*cell.Cell,
	pk spatial.PointKey,
	cl *cell.Cell,
) {
	overflow := cl.SwapOutOverflow()
	for _, op := range overflow {
		child := pk
		child.Step(op.Position())
		b.descend(ctx, clip, touched, child, op)
	}
}
