package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/helpdesk/internal/logbuf"
	"github.com/h1v3-io/helpdesk/internal/store"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to the buffer.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// Ledger is the part of the store the admin API reads and edits.
type Ledger interface {
	ListTasks(ctx context.Context, limit int) ([]protocol.TaskRecord, error)
	TasksByOwner(ctx context.Context, owner protocol.ChatID) ([]protocol.TaskRecord, error)
	TaskByKey(ctx context.Context, key string) (*protocol.TaskRecord, error)
	ListBlocked(ctx context.Context) ([]protocol.BlockEntry, error)
	UnblockByHandle(ctx context.Context, handle string) (int64, error)
}

// Stats is the runtime snapshot reported by /api/health.
type Stats struct {
	Sessions int      `json:"sessions"`
	Lanes    int      `json:"lanes"`
	Jobs     []string `json:"jobs"` // scheduled job names
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the helpdesk admin and webhook HTTP server.
type Server struct {
	ledger Ledger
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	stats  func() Stats
	mux    *http.ServeMux
	srv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogs exposes captured log entries on /api/logs.
func WithLogs(logs LogQuerier) Option {
	return func(s *Server) { s.logs = logs }
}

// WithStats reports runtime counters on /api/health.
func WithStats(fn func() Stats) Option {
	return func(s *Server) { s.stats = fn }
}

// WithWebhook mounts the Jira webhook receiver at POST /webhook/jira. It
// authenticates on its own, outside the API key.
func WithWebhook(h http.Handler) Option {
	return func(s *Server) { s.mux.Handle("POST /webhook/jira", h) }
}

// NewServer creates a new API server.
func NewServer(ledger Ledger, cfg Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/tasks", s.requireAuth(s.handleListTasks))
	s.mux.HandleFunc("GET /api/tasks/{key}", s.requireAuth(s.handleGetTask))
	s.mux.HandleFunc("GET /api/blocked", s.requireAuth(s.handleListBlocked))
	s.mux.HandleFunc("DELETE /api/blocked/{handle}", s.requireAuth(s.handleUnblock))
	s.mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))
	for _, opt := range opts {
		opt(s)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Key)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

type healthResponse struct {
	Status string `json:"status"`
	Stats
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.stats != nil {
		resp.Stats = s.stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []protocol.TaskRecord
		err   error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		id, perr := protocol.ParseChatID(owner)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid owner"})
			return
		}
		tasks, err = s.ledger.TasksByOwner(r.Context(), id)
	} else {
		tasks, err = s.ledger.ListTasks(r.Context(), queryInt(r, "limit", 50))
	}
	if err != nil {
		s.logger.Error("list tasks failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if tasks == nil {
		tasks = []protocol.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.ledger.TaskByKey(r.Context(), r.PathValue("key"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ListBlocked(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []protocol.BlockEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	handle := strings.TrimPrefix(strings.TrimSpace(r.PathValue("handle")), "@")
	if handle == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "handle is required"})
		return
	}
	n, err := s.ledger.UnblockByHandle(r.Context(), handle)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "handle not blocked"})
		return
	}
	s.logger.Info("chat unblocked via api", "handle", handle, "entries", n)
	writeJSON(w, http.StatusOK, map[string]any{"status": "unblocked", "removed": n})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	f := logbuf.Filter{
		MinLevel: slog.LevelDebug,
		Limit:    queryInt(r, "limit", 200),
	}
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		f.MinLevel = logbuf.ParseLevel(lvl)
	}
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}
	if chat := r.URL.Query().Get("chat"); chat != "" {
		f.Key, f.Value = "chat_id", chat
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
