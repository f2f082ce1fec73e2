// Package alert tells administrators about access-control events on Slack.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Config holds Slack alert configuration.
type Config struct {
	Token   string // xoxb-... Bot User OAuth Token
	Channel string // channel ID or name to post into
	APIURL  string // override for tests; empty uses slack.com
}

// Slack posts a block-kit message for every blocked chat.
type Slack struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg Config, logger *slog.Logger) (*Slack, error) {
	if cfg.Token == "" {
		return nil, errors.New("alert: slack token is required")
	}
	if cfg.Channel == "" {
		return nil, errors.New("alert: slack channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}

	return &Slack{
		api:     slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
		logger:  logger,
	}, nil
}

// Blocked implements access.Notifier.
func (s *Slack) Blocked(ctx context.Context, e protocol.BlockEntry) error {
	who := e.ChatID.String()
	if e.Handle != "" {
		who = "@" + e.Handle + " (" + who + ")"
	}
	fallback := fmt.Sprintf("Chat %s was blocked: %s", who, e.Reason)

	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "🚫 Chat blocked", true, false))
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*Chat*\n"+who, false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Reason*\n"+e.Reason, false, false),
	}
	section := slack.NewSectionBlock(nil, fields, nil)
	footer := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, "Blocked at "+e.CreatedAt.UTC().Format(time.RFC3339), false, false),
	)

	_, ts, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(header, section, footer),
	)
	if err != nil {
		return fmt.Errorf("alert: slack post: %w", err)
	}
	s.logger.Debug("block alert posted", "chat_id", int64(e.ChatID), "ts", ts)
	return nil
}
