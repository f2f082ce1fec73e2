package store

import (
	"context"
	"errors"
	"time"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence gateway over users, tasks, block entries and auth
// attempts. It carries no business rules; every method is a single atomic
// write or read.
type Store interface {
	// IsBlocked reports whether a block entry exists for the chat.
	IsBlocked(ctx context.Context, id protocol.ChatID) (bool, error)
	// IsUser reports whether the chat has authenticated.
	IsUser(ctx context.Context, id protocol.ChatID) (bool, error)
	// UpsertUser records an authenticated chat.
	UpsertUser(ctx context.Context, u protocol.User) error

	// AuthAttempts returns the failed-attempt count for a chat (0 if none).
	AuthAttempts(ctx context.Context, id protocol.ChatID) (int, error)
	// IncrementAuthAttempts creates or bumps the attempt counter.
	IncrementAuthAttempts(ctx context.Context, id protocol.ChatID, handle string, at time.Time) error
	// ClearAuthAttempts removes the attempt counter for a chat.
	ClearAuthAttempts(ctx context.Context, id protocol.ChatID) error

	// Block inserts a block entry and drops the chat's attempt counter and
	// user record in one transaction.
	Block(ctx context.Context, e protocol.BlockEntry) error
	// UnblockByHandle deletes block entries carrying the handle, returning how
	// many were removed. Attempt counters for the handle are cleared only when
	// at least one entry was.
	UnblockByHandle(ctx context.Context, handle string) (int64, error)
	// ListBlocked returns all block entries, oldest first.
	ListBlocked(ctx context.Context) ([]protocol.BlockEntry, error)

	// SaveTask inserts a task record and sets its surrogate ID.
	SaveTask(ctx context.Context, t *protocol.TaskRecord) error
	// TaskByKey looks up a task by tracker key.
	TaskByKey(ctx context.Context, key string) (*protocol.TaskRecord, error)
	// TasksByOwner returns a chat's tasks in creation order.
	TasksByOwner(ctx context.Context, owner protocol.ChatID) ([]protocol.TaskRecord, error)
	// ListTasks returns the most recent tasks, newest first. limit <= 0 means all.
	ListTasks(ctx context.Context, limit int) ([]protocol.TaskRecord, error)
	// UpdateTaskStatus overwrites a task's status.
	UpdateTaskStatus(ctx context.Context, key, status string) error
}
