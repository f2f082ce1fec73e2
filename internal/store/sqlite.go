package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite has a single writer; one connection keeps transactions from
	// tripping over each other with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			chat_id  INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS tasks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL,
			task_key   TEXT NOT NULL UNIQUE,
			summary    TEXT NOT NULL DEFAULT '',
			state      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS block (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id    INTEGER NOT NULL UNIQUE,
			reason     TEXT NOT NULL DEFAULT '',
			username   TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS auth_attempts (
			chat_id  INTEGER PRIMARY KEY,
			attempts INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			last_try TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
		CREATE INDEX IF NOT EXISTS idx_block_username ON block(username);
		CREATE INDEX IF NOT EXISTS idx_auth_attempts_username ON auth_attempts(username);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsBlocked(ctx context.Context, id protocol.ChatID) (bool, error) {
	return s.exists(ctx, "is blocked", `SELECT 1 FROM block WHERE chat_id = ?`, int64(id))
}

func (s *SQLiteStore) IsUser(ctx context.Context, id protocol.ChatID) (bool, error) {
	return s.exists(ctx, "is user", `SELECT 1 FROM users WHERE chat_id = ?`, int64(id))
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, u protocol.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, username) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET username = excluded.username
	`, int64(u.ChatID), u.Handle)
	if err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AuthAttempts(ctx context.Context, id protocol.ChatID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT attempts FROM auth_attempts WHERE chat_id = ?`, int64(id)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: auth attempts: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) IncrementAuthAttempts(ctx context.Context, id protocol.ChatID, handle string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (chat_id, attempts, username, last_try) VALUES (?, 1, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			attempts = attempts + 1, username = excluded.username, last_try = excluded.last_try
	`, int64(id), handle, formatTime(at))
	if err != nil {
		return fmt.Errorf("store: increment auth attempts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearAuthAttempts(ctx context.Context, id protocol.ChatID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_attempts WHERE chat_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("store: clear auth attempts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Block(ctx context.Context, e protocol.BlockEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: block: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO block (chat_id, reason, username, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING
	`, int64(e.ChatID), e.Reason, e.Handle, formatTime(e.CreatedAt)); err != nil {
		return fmt.Errorf("store: block: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_attempts WHERE chat_id = ?`, int64(e.ChatID)); err != nil {
		return fmt.Errorf("store: block: clear attempts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE chat_id = ?`, int64(e.ChatID)); err != nil {
		return fmt.Errorf("store: block: drop user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: block: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UnblockByHandle(ctx context.Context, handle string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: unblock: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM block WHERE username = ?`, handle)
	if err != nil {
		return 0, fmt.Errorf("store: unblock: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Nothing blocked under this handle: leave its attempt counters alone.
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_attempts WHERE username = ?`, handle); err != nil {
		return 0, fmt.Errorf("store: unblock: clear attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: unblock: commit: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListBlocked(ctx context.Context) ([]protocol.BlockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, reason, username, created_at FROM block ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list blocked: %w", err)
	}
	defer rows.Close()

	var entries []protocol.BlockEntry
	for rows.Next() {
		var e protocol.BlockEntry
		var chatID int64
		var createdAt string
		if err := rows.Scan(&chatID, &e.Reason, &e.Handle, &createdAt); err != nil {
			return nil, fmt.Errorf("store: list blocked scan: %w", err)
		}
		e.ChatID = protocol.ChatID(chatID)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) SaveTask(ctx context.Context, t *protocol.TaskRecord) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (user_id, task_key, summary, state, created_at) VALUES (?, ?, ?, ?, ?)
	`, int64(t.Owner), t.Key, t.Summary, t.Status, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save task %s: %w", t.Key, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		t.ID = id
	}
	return nil
}

func (s *SQLiteStore) TaskByKey(ctx context.Context, key string) (*protocol.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, selectTask+` WHERE task_key = ?`, key)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: task by key: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) TasksByOwner(ctx context.Context, owner protocol.ChatID) ([]protocol.TaskRecord, error) {
	return s.queryTasks(ctx, selectTask+` WHERE user_id = ? ORDER BY id`, int64(owner))
}

func (s *SQLiteStore) ListTasks(ctx context.Context, limit int) ([]protocol.TaskRecord, error) {
	query := selectTask + ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryTasks(ctx, query)
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, key, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tasks SET state = ? WHERE task_key = ?`, status, key)
	if err != nil {
		return fmt.Errorf("store: update task status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %q: %w", key, ErrNotFound)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers ---

const selectTask = `SELECT id, task_key, user_id, summary, state, created_at FROM tasks`

func (s *SQLiteStore) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: %s: %w", op, err)
	}
	return true, nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]protocol.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []protocol.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list tasks scan: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(s scannable) (*protocol.TaskRecord, error) {
	var t protocol.TaskRecord
	var owner int64
	var createdAt string
	if err := s.Scan(&t.ID, &t.Key, &owner, &t.Summary, &t.Status, &createdAt); err != nil {
		return nil, err
	}
	t.Owner = protocol.ChatID(owner)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
