// Package config assembles the flat configuration surface a CLI run
// needs into the functional options builder and merger already accept,
// following the teacher's service/options.go style: a plain options
// struct populated by flag binding, translated into the packages' own
// Option values at the point of use rather than duplicating their
// defaults here.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wkalt/ept/builder"
	"github.com/wkalt/ept/endpoint"
	"github.com/wkalt/ept/merger"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/spatial"
)

// Build carries every flag a `build` run accepts.
type Build struct {
	Output        string
	Inputs        []string
	Threads       int
	Span          float64
	ChunkCapacity int
	HierarchyStep uint32
	MaxDepth      uint32
	Compress      bool
	ResetFiles    bool
	SubsetID      uint64
	SubsetOf      uint64
	BuildLogDir   string

	HaveGlobalBounds bool
	GlobalBounds     spatial.Bounds
}

// BuilderOptions translates b into builder.Options, always including
// WithBuildLogDir (required), WithSubset only when a subset build was
// requested, and WithGlobalBounds whenever explicit bounds were given.
func (b Build) BuilderOptions() []builder.Option {
	opts := []builder.Option{
		builder.WithBuildLogDir(b.BuildLogDir),
		builder.WithCompress(b.Compress),
		builder.WithResetFiles(b.ResetFiles),
		builder.WithSchema(schema.DefaultSchema()),
	}
	if b.Threads > 0 {
		opts = append(opts, builder.WithThreads(b.Threads))
	}
	if b.Span > 0 {
		opts = append(opts, builder.WithSpan(b.Span))
	}
	if b.ChunkCapacity > 0 {
		opts = append(opts, builder.WithChunkCapacity(b.ChunkCapacity))
	}
	if b.HierarchyStep > 0 {
		opts = append(opts, builder.WithHierarchyStep(b.HierarchyStep))
	}
	if b.MaxDepth > 0 {
		opts = append(opts, builder.WithMaxDepth(b.MaxDepth))
	}
	if b.SubsetOf > 0 {
		opts = append(opts, builder.WithSubset(b.SubsetID, b.SubsetOf))
	}
	if b.HaveGlobalBounds {
		opts = append(opts, builder.WithGlobalBounds(b.GlobalBounds))
	}
	return opts
}

// Merge carries every flag a `merge` run accepts. Shard targets themselves
// are positional CLI arguments, not part of this struct.
type Merge struct {
	Output  string
	Threads int
}

// MergerOptions translates m into merger.Options.
func (m Merge) MergerOptions() []merger.Option {
	var opts []merger.Option
	if m.Threads > 0 {
		opts = append(opts, merger.WithThreads(m.Threads))
	}
	return opts
}

// OpenEndpoint parses target (a local path, "mem://name" for an in-process
// store, or an "s3://bucket" URL honoring standard AWS_* environment
// variables) into an Endpoint plus the prefix to use within it.
func OpenEndpoint(ctx context.Context, target string) (endpoint.Endpoint, string, error) {
	switch {
	case strings.HasPrefix(target, "mem://"):
		name := strings.TrimPrefix(target, "mem://")
		return endpoint.NewMemory(name), "", nil
	case strings.HasPrefix(target, "s3://"):
		return openS3(ctx, target)
	default:
		ep, err := endpoint.NewDirectory(target)
		if err != nil {
			return nil, "", fmt.Errorf("open directory endpoint: %w", err)
		}
		return ep, "", nil
	}
}

func openS3(_ context.Context, target string) (endpoint.Endpoint, string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, "", fmt.Errorf("parse s3 target %q: %w", target, err)
	}
	bucket := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	endpointHost := firstNonEmpty(u.Query().Get("endpoint"), "s3.amazonaws.com")
	mc, err := minio.New(endpointHost, &minio.Options{
		Creds:  credentials.NewEnvAWS(),
		Secure: u.Query().Get("insecure") == "",
	})
	if err != nil {
		return nil, "", fmt.Errorf("create s3 client: %w", err)
	}
	return endpoint.NewS3(mc, bucket), prefix, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
