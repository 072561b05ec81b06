package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// A single formatted log line.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Scope   string      // Dot-joined handler groups, e.g. "popbuild".
	Attrs   []slog.Attr // Handler attributes followed by record attributes.
}

// Turns an [Entry] into bytes written to the stream.
type Formatter interface {
	Format(e Entry) []byte
}

// State shared by a handler and every handler derived from it.
type core struct {
	mu        sync.Mutex
	level     slog.Level
	formatter Formatter
	stream    io.Writer
	flushed   bool
	pending   []Entry
}

// A buffering [slog.Handler].
//
// Handlers derived through WithAttrs and WithGroup share level, formatter,
// stream and buffer with their parent, so configuring the root handler after
// [slog.SetDefault] reconfigures every logger.
type Handler struct {
	core   *core
	attrs  []slog.Attr
	groups []string
}

// Creates a handler at info level that writes plain text to stderr once
// flushed.
func NewHandler() *Handler {
	return &Handler{
		core: &core{
			level:     slog.LevelInfo,
			formatter: &PrettyFormatter{},
			stream:    os.Stderr,
		},
	}
}

// Sets the minimum level of written records.
func (h *Handler) SetLevel(level slog.Level) {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	h.core.level = level
}

// Replaces the formatter.
func (h *Handler) SetFormatter(f Formatter) {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	h.core.formatter = f
}

// Replaces the output stream.
func (h *Handler) SetStream(w io.Writer) {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	h.core.stream = w
}

// Writes buffered records that pass the current level and switches the
// handler to direct output. Calling Flush more than once is a no-op.
func (h *Handler) Flush() {
	c := h.core
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flushed {
		return
	}
	c.flushed = true

	for _, e := range c.pending {
		if e.Level >= c.level {
			c.write(e)
		}
	}
	c.pending = nil
}

// Reports whether records at level are kept. Before the first flush every
// record is kept, because the final level is not known yet.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	return !h.core.flushed || level >= h.core.level
}

// Buffers or writes a record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Scope:   strings.Join(h.groups, "."),
		Attrs:   slices.Clone(h.attrs),
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs = append(e.Attrs, a)
		return true
	})

	c := h.core
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.flushed {
		c.pending = append(c.pending, e)
		return nil
	}
	if e.Level < c.level {
		return nil
	}
	return c.write(e)
}

// Returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		core:   h.core,
		attrs:  append(slices.Clone(h.attrs), attrs...),
		groups: h.groups,
	}
}

// Returns a handler scoped under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{
		core:   h.core,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}

// Must be called with the lock held.
func (c *core) write(e Entry) error {
	_, err := c.stream.Write(c.formatter.Format(e))
	return err
}
