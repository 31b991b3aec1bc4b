// Package endpoint defines the abstract key-value object store the build
// and merge pipelines read and write through, plus the local-filesystem,
// in-memory, and S3-compatible implementations.
package endpoint

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("endpoint: object not found")

// IoError wraps a transient failure talking to the backing store (network
// errors, throttling) that callers should retry with backoff.
type IoError struct {
	Op  string
	Key string
	Err error
}

func (e IoError) Error() string {
	return fmt.Sprintf("endpoint io error during %s %q: %v", e.Op, e.Key, e.Err)
}

func (e IoError) Unwrap() error { return e.Err }

func (e IoError) Is(target error) bool {
	_, ok := target.(IoError)
	return ok
}

// Endpoint is the abstract object store the core consumes. Keys are
// slash-separated paths relative to the endpoint's root/prefix. Put is
// atomic and overwrite-permitted; writes of immutable chunk content are
// expected to be idempotent.
type Endpoint interface {
	// Get retrieves the full contents of key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data to key, creating or overwriting it.
	Put(ctx context.Context, key string, data []byte) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// String identifies the endpoint for logging.
	String() string
}

// Copier is implemented by endpoints that can copy an object server-side
// without a round trip through the client. Copy falls back to Get+Put when
// an endpoint does not implement it.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// Copy copies src to dst on ep, using ep's native Copy when available and
// falling back to a Get/Put pair otherwise.
func Copy(ctx context.Context, ep Endpoint, src, dst string) error {
	if c, ok := ep.(Copier); ok {
		return c.Copy(ctx, src, dst)
	}
	data, err := ep.Get(ctx, src)
	if err != nil {
		return fmt.Errorf("copy: read %q: %w", src, err)
	}
	if err := ep.Put(ctx, dst, data); err != nil {
		return fmt.Errorf("copy: write %q: %w", dst, err)
	}
	return nil
}
