package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/fatih/color"
)

var levelColors = map[slog.Level]*color.Color{ // nolint:gochecknoglobals
	slog.LevelDebug: color.New(color.FgMagenta),
	slog.LevelInfo:  color.New(color.FgCyan),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed),
}

// textHandler is a slog.Handler for interactive/CLI use: level tag in
// color, message, then key=value attrs sorted alphabetically. JSON output
// (slog.JSONHandler) is used instead for production/non-tty runs.
type textHandler struct {
	w     io.Writer
	attrs []slog.Attr
}

// NewTextHandler returns a colorized, human-readable slog.Handler writing
// to w, for interactive CLI use in place of the default JSON handler.
func NewTextHandler(w io.Writer) slog.Handler {
	return &textHandler{w: w}
}

func (h *textHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	c, ok := levelColors[r.Level]
	if !ok {
		c = color.New(color.FgWhite)
	}
	tag := c.Sprintf("%-5s", r.Level.String())

	line := fmt.Sprintf("%s %s", tag, r.Message)
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	sort.Strings(attrs)
	for _, a := range attrs {
		line += " " + a
	}
	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &textHandler{w: h.w, attrs: merged}
}

func (h *textHandler) WithGroup(string) slog.Handler {
	return h
}
