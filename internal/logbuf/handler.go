package logbuf

import (
	"context"
	"log/slog"
	"strings"
)

// Handler is an slog.Handler that captures entries into a Buffer
// and delegates to an inner handler.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	attrs  []slog.Attr // pre-bound, keys already qualified
	groups []string
}

// NewHandler creates a handler that writes to both buf and inner.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

// Enabled always reports true: the buffer keeps every level even when the
// inner handler filters.
func (h *Handler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = resolveAttrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.qualify(a.Key)] = resolveAttrValue(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.buf.Write(Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

// qualify prefixes key with the open groups, outermost first.
func (h *Handler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

// resolveAttrValue converts slog values to JSON-safe types. Errors become
// their message so they don't marshal to {}.
func resolveAttrValue(v slog.Value) any {
	raw := v.Resolve().Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := h.attrs[:len(h.attrs):len(h.attrs)]
	for _, a := range attrs {
		bound = append(bound, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &Handler{
		inner:  h.inner.WithAttrs(attrs),
		buf:    h.buf,
		attrs:  bound,
		groups: h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		inner:  h.inner.WithGroup(name),
		buf:    h.buf,
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}
