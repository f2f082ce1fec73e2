// Package relay forwards Jira issue events to the chat that owns the issue
// and keeps the stored task status in step with the tracker.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/internal/events"
	"github.com/h1v3-io/helpdesk/internal/store"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// TaskStore is the persistence the relay needs.
type TaskStore interface {
	TaskByKey(ctx context.Context, key string) (*protocol.TaskRecord, error)
	UpdateTaskStatus(ctx context.Context, key, status string) error
}

// Outcome reports what Handle did with an event.
type Outcome int

const (
	// Ignored events carry nothing the relay acts on.
	Ignored Outcome = iota
	// Dropped events had something to say but no resolvable owner.
	Dropped
	// Delivered events produced exactly one chat message.
	Delivered
)

func (o Outcome) String() string {
	switch o {
	case Dropped:
		return "dropped"
	case Delivered:
		return "delivered"
	default:
		return "ignored"
	}
}

// Relay maps tracker events onto chat notifications.
type Relay struct {
	store     TaskStore
	sender    connector.Sender
	publisher events.Publisher
	logger    *slog.Logger
}

// New creates a Relay. A nil publisher discards events.
func New(st TaskStore, sender connector.Sender, pub events.Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Relay{store: st, sender: sender, publisher: pub, logger: logger}
}

// Handle processes one webhook payload. A comment takes precedence over a
// changelog in the same payload. Concurrent status events for one issue are
// not ordered; the last write wins.
func (r *Relay) Handle(ctx context.Context, p *Payload) (Outcome, error) {
	key := p.Issue.Key

	owner, known, err := r.owner(ctx, p)
	if err != nil {
		return Ignored, err
	}

	var text string
	switch {
	case p.Comment != nil:
		text = fmt.Sprintf("New comment on %s:\n%s", key, p.Comment.Body)

	default:
		item, ok := p.StatusChange()
		if !ok {
			r.logger.Debug("webhook ignored", "key", key, "event", p.WebhookEvent)
			return Ignored, nil
		}
		from := protocol.DisplayStatus(item.FromString)
		to := protocol.DisplayStatus(item.ToString)

		if known {
			if err := r.store.UpdateTaskStatus(ctx, key, to); err != nil && !errors.Is(err, store.ErrNotFound) {
				return Ignored, fmt.Errorf("relay: update %s: %w", key, err)
			}
		}
		if known || owner != 0 {
			r.publish(ctx, key, owner, from, to)
		}
		text = fmt.Sprintf("Status of %s changed: %s → %s", key, from, to)
	}

	if owner == 0 {
		r.logger.Info("no chat for issue, notification dropped", "key", key)
		return Dropped, nil
	}

	if err := r.sender.Send(ctx, connector.OutboundMessage{ChatID: owner, Text: text}); err != nil {
		return Ignored, fmt.Errorf("relay: notify %s: %w", key, err)
	}
	r.logger.Info("issue event relayed", "key", key, "chat_id", int64(owner))
	return Delivered, nil
}

// owner looks the issue up locally first and falls back to the label
// embedded at creation. known reports whether a local record exists.
func (r *Relay) owner(ctx context.Context, p *Payload) (protocol.ChatID, bool, error) {
	rec, err := r.store.TaskByKey(ctx, p.Issue.Key)
	switch {
	case err == nil:
		return rec.Owner, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return 0, false, fmt.Errorf("relay: lookup %s: %w", p.Issue.Key, err)
	}
	id, _ := p.LabelOwner()
	return id, false, nil
}

func (r *Relay) publish(ctx context.Context, key string, owner protocol.ChatID, from, to string) {
	env := events.NewEnvelope(events.TaskStatusChanged, events.TaskStatusChangedData{
		Key:   key,
		Owner: owner,
		From:  from,
		To:    to,
	})
	if err := r.publisher.Publish(ctx, events.TaskStatusChanged, env); err != nil {
		r.logger.Warn("publish status event failed", "key", key, "error", err)
	}
}
