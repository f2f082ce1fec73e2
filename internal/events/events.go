// Package events publishes task lifecycle events for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Routing keys. The suffix is the payload version.
const (
	TaskCreated       = "helpdesk.task.created.v1"
	TaskStatusChanged = "helpdesk.task.status_changed.v1"
)

// Producer names this service in event metadata.
const Producer = "helpdesk"

// Meta describes one emitted event.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope is the wire form of every event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// TaskCreatedData is the payload of TaskCreated.
type TaskCreatedData struct {
	Key       string          `json:"key"`
	Owner     protocol.ChatID `json:"owner"`
	Summary   string          `json:"summary"`
	IssueKind string          `json:"issue_kind"`
	Severity  string          `json:"severity"`
	Photos    int             `json:"photos"`
	Uploaded  int             `json:"uploaded"`
}

// TaskStatusChangedData is the payload of TaskStatusChanged.
type TaskStatusChangedData struct {
	Key   string          `json:"key"`
	Owner protocol.ChatID `json:"owner,omitempty"`
	From  string          `json:"from"`
	To    string          `json:"to"`
}

// NewEnvelope wraps data with fresh metadata.
func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Producer: Producer,
			Time:     time.Now().UTC(),
			Type:     eventType,
		},
		Data: data,
	}
}

// Publisher emits envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) error { return nil }
func (Nop) Close() error                                    { return nil }
