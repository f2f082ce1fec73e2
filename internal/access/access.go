// Package access decides whether a chat may talk to the bot, tracks wrong
// password attempts, and blocks chats that exhaust them.
package access

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/h1v3-io/helpdesk/internal/store"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// MaxAttempts is the number of wrong passwords that blocks a chat.
const MaxAttempts = 5

// BlockReason is recorded on block entries created by the attempt counter.
const BlockReason = "too many failed attempts"

// Admission is the outcome of gating an inbound chat.
type Admission int

const (
	Unauthenticated Admission = iota
	Active
	Blocked
	// Excluded chats are ignored entirely, without the blocked notice.
	Excluded
)

func (a Admission) String() string {
	switch a {
	case Active:
		return "active"
	case Blocked:
		return "blocked"
	case Excluded:
		return "excluded"
	default:
		return "unauthenticated"
	}
}

// Outcome classifies a password challenge.
type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	Locked
)

// Verdict is the result of Challenge. Remaining is set for Rejected.
type Verdict struct {
	Outcome   Outcome
	Remaining int
}

// UnblockResult classifies an Unblock call.
type UnblockResult int

const (
	Removed UnblockResult = iota
	NotFound
	Forbidden
)

// Policy is the static access configuration. Build it once at startup.
type Policy struct {
	admins   map[protocol.ChatID]struct{}
	password string
	excluded protocol.ChatID
}

// NewPolicy returns a policy. excluded == 0 disables the hard exclusion.
func NewPolicy(password string, admins []int64, excluded int64) Policy {
	set := make(map[protocol.ChatID]struct{}, len(admins))
	for _, id := range admins {
		set[protocol.ChatID(id)] = struct{}{}
	}
	return Policy{admins: set, password: password, excluded: protocol.ChatID(excluded)}
}

// IsAdmin reports whether id is in the administrator set.
func (p Policy) IsAdmin(id protocol.ChatID) bool {
	_, ok := p.admins[id]
	return ok
}

// IsExcluded reports whether id is the permanently ineligible chat.
func (p Policy) IsExcluded(id protocol.ChatID) bool {
	return p.excluded != 0 && id == p.excluded
}

func (p Policy) matches(submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(p.password)) == 1
}

// Notifier is told about every block created by the attempt counter.
type Notifier interface {
	Blocked(ctx context.Context, entry protocol.BlockEntry) error
}

// Service implements the access-control ledger on top of a store.
type Service struct {
	store    store.Store
	policy   Policy
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier installs a block notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates an access service.
func New(st store.Store, policy Policy, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  st,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsAdmin reports whether id may use administrator actions.
func (s *Service) IsAdmin(id protocol.ChatID) bool {
	return s.policy.IsAdmin(id)
}

// Admit classifies an inbound chat without side effects.
func (s *Service) Admit(ctx context.Context, id protocol.ChatID) (Admission, error) {
	if s.policy.IsExcluded(id) {
		return Excluded, nil
	}
	blocked, err := s.store.IsBlocked(ctx, id)
	if err != nil {
		return Unauthenticated, fmt.Errorf("access: admit: %w", err)
	}
	if blocked {
		return Blocked, nil
	}
	active, err := s.store.IsUser(ctx, id)
	if err != nil {
		return Unauthenticated, fmt.Errorf("access: admit: %w", err)
	}
	if active {
		return Active, nil
	}
	return Unauthenticated, nil
}

// Challenge checks a submitted password for an unauthenticated chat.
func (s *Service) Challenge(ctx context.Context, id protocol.ChatID, handle, submitted string) (Verdict, error) {
	blocked, err := s.store.IsBlocked(ctx, id)
	if err != nil {
		return Verdict{}, fmt.Errorf("access: challenge: %w", err)
	}
	if blocked {
		return Verdict{Outcome: Locked}, nil
	}

	if s.policy.matches(strings.TrimSpace(submitted)) {
		if err := s.store.UpsertUser(ctx, protocol.User{ChatID: id, Handle: handle}); err != nil {
			return Verdict{}, fmt.Errorf("access: challenge: %w", err)
		}
		if err := s.store.ClearAuthAttempts(ctx, id); err != nil {
			return Verdict{}, fmt.Errorf("access: challenge: %w", err)
		}
		s.logger.Info("chat authenticated", "chat_id", int64(id), "handle", handle)
		return Verdict{Outcome: Accepted}, nil
	}

	count, err := s.store.AuthAttempts(ctx, id)
	if err != nil {
		return Verdict{}, fmt.Errorf("access: challenge: %w", err)
	}

	if count+1 >= MaxAttempts {
		entry := protocol.BlockEntry{
			ChatID:    id,
			Reason:    BlockReason,
			Handle:    handle,
			CreatedAt: s.now(),
		}
		if err := s.store.Block(ctx, entry); err != nil {
			return Verdict{}, fmt.Errorf("access: challenge: %w", err)
		}
		s.logger.Warn("chat blocked", "chat_id", int64(id), "handle", handle, "reason", BlockReason)
		if s.notifier != nil {
			if err := s.notifier.Blocked(ctx, entry); err != nil {
				s.logger.Warn("block notification failed", "chat_id", int64(id), "error", err)
			}
		}
		return Verdict{Outcome: Locked}, nil
	}

	if err := s.store.IncrementAuthAttempts(ctx, id, handle, s.now()); err != nil {
		return Verdict{}, fmt.Errorf("access: challenge: %w", err)
	}
	remaining := MaxAttempts - 1 - count
	s.logger.Info("wrong password", "chat_id", int64(id), "remaining", remaining)
	return Verdict{Outcome: Rejected, Remaining: remaining}, nil
}

// Unblock removes the block entry and attempt counters for a handle.
// Only administrators may call it.
//
// Entries are matched by handle text, not chat id: if a handle changes hands
// while blocked, the wrong chat may be released.
func (s *Service) Unblock(ctx context.Context, actor protocol.ChatID, handle string) (UnblockResult, error) {
	if !s.policy.IsAdmin(actor) {
		return Forbidden, nil
	}
	handle = NormalizeHandle(handle)
	if handle == "" {
		return NotFound, nil
	}
	n, err := s.store.UnblockByHandle(ctx, handle)
	if err != nil {
		return NotFound, fmt.Errorf("access: unblock: %w", err)
	}
	if n == 0 {
		return NotFound, nil
	}
	s.logger.Info("chat unblocked", "handle", handle, "by", int64(actor))
	return Removed, nil
}

// NormalizeHandle trims whitespace and a leading '@'.
func NormalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}
