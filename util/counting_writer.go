package util

import (
	"fmt"
	"io"
)

type CountingWriter struct {
	w io.Writer
	n int
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	if err != nil {
		return n, fmt.Errorf("write failure: %w", err)
	}
	return n, nil
}

func (c *CountingWriter) Count() int {
	return c.n
}

// Sync forwards to the underlying writer's Sync, if it has one, so wrapping
// a file in a CountingWriter doesn't silently drop fsync durability.
func (c *CountingWriter) Sync() error {
	if s, ok := c.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Flush forwards to the underlying writer's Flush, if it has one.
func (c *CountingWriter) Flush() error {
	if f, ok := c.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}
