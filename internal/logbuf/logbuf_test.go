package logbuf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestBufferWriteAndQuery(t *testing.T) {
	buf := New(5)
	now := time.Now()

	for i := 0; i < 3; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
		})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if buf.Len() != 3 {
		t.Fatalf("Len = %d", buf.Len())
	}
}

func TestBufferRingOverwrite(t *testing.T) {
	buf := New(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
			Attrs:   map[string]any{"i": i},
		})
	}

	entries := buf.Query(Filter{})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring buffer size), got %d", len(entries))
	}
	// Should be entries 2, 3, 4 (oldest first)
	if entries[0].Attrs["i"] != 2 {
		t.Fatalf("expected first entry i=2, got %v", entries[0].Attrs["i"])
	}
	if entries[2].Attrs["i"] != 4 {
		t.Fatalf("expected last entry i=4, got %v", entries[2].Attrs["i"])
	}
}

func TestBufferQuerySince(t *testing.T) {
	buf := New(10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: "msg"})
	}

	entries := buf.Query(Filter{Since: now.Add(3 * time.Second)})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries since t+3s, got %d", len(entries))
	}
}

func TestBufferQueryLevel(t *testing.T) {
	buf := New(10)
	now := time.Now()

	buf.Write(Entry{Time: now, Level: "DEBUG", Message: "debug"})
	buf.Write(Entry{Time: now, Level: "INFO", Message: "info"})
	buf.Write(Entry{Time: now, Level: "WARN", Message: "warn"})
	buf.Write(Entry{Time: now, Level: "ERROR", Message: "error"})

	entries := buf.Query(Filter{MinLevel: slog.LevelWarn})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at WARN+, got %d", len(entries))
	}
	if entries[0].Message != "warn" || entries[1].Message != "error" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestBufferQueryAttr(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Info("update failed", "chat_id", int64(42))
	logger.Info("update failed", "chat_id", int64(7))
	logger.Info("ticket submitted", "chat_id", int64(42), "key", "HD-1")
	logger.Info("scheduler started")

	entries := buf.Query(Filter{Key: "chat_id", Value: "42"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for chat 42, got %d", len(entries))
	}
	if entries[1].Attrs["key"] != "HD-1" {
		t.Fatalf("unexpected entry: %v", entries[1])
	}
}

func TestBufferQueryLimit(t *testing.T) {
	buf := New(10)
	now := time.Now()

	for i := 0; i < 8; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: "msg"})
	}

	entries := buf.Query(Filter{Limit: 3})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries with limit, got %d", len(entries))
	}
	if !entries[2].Time.Equal(now.Add(7 * time.Second)) {
		t.Fatalf("limit must keep the newest entries")
	}
}

func TestHandlerCaptures(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Info("hello", "key", "value", "error", errors.New("boom"))
	logger.Warn("warning")

	entries := buf.Query(Filter{})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "hello" {
		t.Fatalf("expected 'hello', got %q", entries[0].Message)
	}
	if entries[0].Attrs["key"] != "value" {
		t.Fatalf("expected attr key=value, got %v", entries[0].Attrs)
	}
	if entries[0].Attrs["error"] != "boom" {
		t.Fatalf("errors must be stored as strings, got %v", entries[0].Attrs["error"])
	}
	if entries[1].Level != "WARN" {
		t.Fatalf("expected WARN level, got %q", entries[1].Level)
	}
}

func TestHandlerWithAttrsAndGroups(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf)).
		With("component", "relay").
		WithGroup("jira").
		WithGroup("issue").
		With("key", "HD-1")

	logger.Info("msg", "status", "Done")

	entries := buf.Query(Filter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0].Attrs
	if got["component"] != "relay" {
		t.Fatalf("expected component=relay, got %v", got)
	}
	if got["jira.issue.key"] != "HD-1" || got["jira.issue.status"] != "Done" {
		t.Fatalf("expected outermost-first group prefixes, got %v", got)
	}
}

func TestHandlerCapturesAllLevels(t *testing.T) {
	buf := New(10)
	// Inner handler only allows WARN+
	handler := NewHandler(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}), buf)
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected DEBUG to be enabled (buffer captures all)")
	}

	logger := slog.New(handler)
	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in buffer, got %d", len(entries))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"nope":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
