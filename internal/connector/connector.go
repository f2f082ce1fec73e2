package connector

import (
	"context"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Connector is the interface for the chat platform the bot talks through.
type Connector interface {
	Sender
	// Name returns the connector type (e.g., "telegram").
	Name() string
	// Start begins listening for inbound updates. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// Format selects how the transport renders Text.
type Format int

const (
	// Plain text, no markup.
	Plain Format = iota
	// MarkdownV2 is Telegram's rich-text dialect; user text must be escaped.
	MarkdownV2
)

// Button is an inline choice rendered under a message.
type Button struct {
	Label string
	Data  string
}

// OutboundMessage is a message sent to a chat.
type OutboundMessage struct {
	ChatID  protocol.ChatID
	Text    string
	Format  Format
	Buttons [][]Button // rows of inline buttons
}

// UpdateKind tells which of the payload fields of an Update is set.
type UpdateKind int

const (
	KindText UpdateKind = iota
	KindCommand
	KindButton
	KindPhoto
)

func (k UpdateKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindButton:
		return "button"
	case KindPhoto:
		return "photo"
	default:
		return "text"
	}
}

// Update is one inbound interaction from a chat.
type Update struct {
	Kind   UpdateKind
	ChatID protocol.ChatID
	Handle string // username without '@', may be empty
	Text   string // message text, or command name without '/' for KindCommand
	Data   string // button payload for KindButton
	Photo  *protocol.PhotoRef
}

// Handler processes updates received from the chat platform.
type Handler func(ctx context.Context, upd Update) error
