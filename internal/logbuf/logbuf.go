// Package logbuf keeps the most recent log records in memory so operators
// can pull them over the admin API.
package logbuf

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is a single log entry captured from slog.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries in Query. Zero values match everything.
type Filter struct {
	Since    time.Time
	MinLevel slog.Level
	// Key and Value match entries whose attribute Key renders as Value,
	// e.g. Key "chat_id", Value "42".
	Key   string
	Value string
	// Limit keeps only the newest Limit matches when > 0.
	Limit int
}

func (f Filter) match(e Entry) bool {
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if ParseLevel(e.Level) < f.MinLevel {
		return false
	}
	if f.Key != "" {
		v, ok := e.Attrs[f.Key]
		if !ok || fmt.Sprint(v) != f.Value {
			return false
		}
	}
	return true
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
}

// New creates a new ring buffer that holds up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write appends an entry to the ring buffer.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Query returns entries matching f, oldest first.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Entry

	start := 0
	if b.count == b.size {
		start = b.pos // oldest entry when buffer is full
	}

	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%b.size]
		if f.match(e) {
			result = append(result, e)
		}
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// ParseLevel converts a level name back to slog.Level. Unknown names are
// treated as INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
