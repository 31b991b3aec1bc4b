package builder

import (
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/spatial"
)

// config carries every tunable the builder accepts, populated by Option
// functions over a default.
type config struct {
	threads       int
	span          float64
	chunkCapacity int
	baseCapacity  int
	hierarchyStep uint32
	maxDepth      uint32
	evictInterval int
	softCap       int
	compress      bool
	schema        schema.Schema
	resetFiles    bool
	subsetID      uint64
	subsetOf      uint64
	buildLogDir   string

	globalBounds     spatial.Bounds
	haveGlobalBounds bool
}

func defaultConfig() config {
	return config{
		threads:       0, // 0 means runtime.GOMAXPROCS(0), resolved in New
		span:          256,
		chunkCapacity: 20000,
		baseCapacity:  40000,
		hierarchyStep: 6,
		maxDepth:      26,
		evictInterval: 100000,
		softCap:       64,
		compress:      true,
		schema:        schema.DefaultSchema(),
	}
}

// Option configures a Builder.
type Option func(*config)

// WithThreads sets the worker pool size. Zero (the default) resolves to
// hardware concurrency at build start.
func WithThreads(n int) Option {
	return func(c *config) { c.threads = n }
}

// WithSpan sets the root cube's side length in addressable coordinate
// units; it must be a power of two.
func WithSpan(span float64) Option {
	return func(c *config) { c.span = span }
}

// WithChunkCapacity sets the maximum point count of an overflow (leaf)
// cell.
func WithChunkCapacity(n int) Option {
	return func(c *config) { c.chunkCapacity = n }
}

// WithBaseCapacity sets the capacity of a base cell, including its
// reserved overflow half. Zero disables base cells: every depth uses
// ordinary overflow cells.
func WithBaseCapacity(n int) Option {
	return func(c *config) { c.baseCapacity = n }
}

// WithHierarchyStep sets the depth interval hierarchy blocks partition on.
func WithHierarchyStep(step uint32) Option {
	return func(c *config) { c.hierarchyStep = step }
}

// WithMaxDepth sets the absolute descent cap past which points are
// force-appended rather than split further.
func WithMaxDepth(d uint32) Option {
	return func(c *config) { c.maxDepth = d }
}

// WithEvictInterval sets how many points a worker processes between cache
// eviction passes.
func WithEvictInterval(n int) Option {
	return func(c *config) { c.evictInterval = n }
}

// WithSoftCap sets the cache's resident cell soft cap.
func WithSoftCap(n int) Option {
	return func(c *config) { c.softCap = n }
}

// WithCompress toggles Zstandard compression of written chunks.
func WithCompress(enabled bool) Option {
	return func(c *config) { c.compress = enabled }
}

// WithSchema overrides the default point schema.
func WithSchema(s schema.Schema) Option {
	return func(c *config) { c.schema = s }
}

// WithResetFiles forces re-ingestion of every source, ignoring any
// existing manifest or build log.
func WithResetFiles(reset bool) Option {
	return func(c *config) { c.resetFiles = reset }
}

// WithSubset scopes this build to one shard of a sharded build, per
// subset.New(id, of).
func WithSubset(id, of uint64) Option {
	return func(c *config) { c.subsetID, c.subsetOf = id, of }
}

// WithBuildLogDir sets the local directory the resumable build log is
// written under. Required; the build log must live on local disk even
// when the output endpoint is remote, since it is consulted before any
// endpoint round trip.
func WithBuildLogDir(dir string) Option {
	return func(c *config) { c.buildLogDir = dir }
}

// WithGlobalBounds fixes the root bounds explicitly rather than deriving
// them from source Info. Required for a subset build: New rejects a
// subset build without it, so that every shard splits the same global
// extent.
func WithGlobalBounds(b spatial.Bounds) Option {
	return func(c *config) { c.globalBounds, c.haveGlobalBounds = b, true }
}
