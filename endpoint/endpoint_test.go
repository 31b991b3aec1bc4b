package endpoint_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkalt/ept/endpoint"
)

func testEndpoints(t *testing.T) map[string]endpoint.Endpoint {
	t.Helper()
	dir, err := endpoint.NewDirectory(t.TempDir())
	require.NoError(t, err)
	return map[string]endpoint.Endpoint{
		"directory": dir,
		"memory":    endpoint.NewMemory("test"),
	}
}

func TestEndpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, ep := range testEndpoints(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := ep.Exists(ctx, "a/b.bin")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, ep.Put(ctx, "a/b.bin", []byte("hello")))

			ok, err = ep.Exists(ctx, "a/b.bin")
			require.NoError(t, err)
			assert.True(t, ok)

			data, err := ep.Get(ctx, "a/b.bin")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), data)

			keys, err := ep.List(ctx, "a/")
			require.NoError(t, err)
			assert.Contains(t, keys, "a/b.bin")

			require.NoError(t, ep.Delete(ctx, "a/b.bin"))
			ok, err = ep.Exists(ctx, "a/b.bin")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEndpointGetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, ep := range testEndpoints(t) {
		t.Run(name, func(t *testing.T) {
			_, err := ep.Get(ctx, "nope")
			require.Error(t, err)
			assert.True(t, errors.Is(err, endpoint.ErrNotFound))
		})
	}
}

func TestCopyFallback(t *testing.T) {
	ctx := context.Background()
	ep := endpoint.NewMemory("test")
	require.NoError(t, ep.Put(ctx, "src", []byte("data")))
	require.NoError(t, endpoint.Copy(ctx, ep, "src", "dst"))
	data, err := ep.Get(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}
