package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// pollTimeout is the long-poll window in seconds. Config.Timeout must exceed it.
const pollTimeout = 30

// Config holds Telegram connector configuration.
type Config struct {
	Token string // Bot token from @BotFather
	// Timeout bounds every Bot API request. Zero means 60s.
	Timeout time.Duration
	// Endpoint and FileEndpoint override the Bot API URL patterns
	// (tgbotapi.APIEndpoint, tgbotapi.FileEndpoint), e.g. for a local Bot API server.
	Endpoint     string
	FileEndpoint string
}

// Connector implements the connector.Connector interface for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.Handler, logger *slog.Logger) (*Connector, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Downloader returns a Downloader that resolves photo file IDs through this
// bot. A nil client gets the default.
func (c *Connector) Downloader(client *http.Client) *Downloader {
	return NewDownloader(c.bot, c.bot.Token, c.config.FileEndpoint, client)
}

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	// Drop whatever queued up while the bot was offline.
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		c.logger.Warn("delete webhook failed", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Telegram chat.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		c.logger.Warn("skipping empty message", "chat_id", int64(msg.ChatID))
		return nil
	}

	tgMsg := tgbotapi.NewMessage(int64(msg.ChatID), msg.Text)
	tgMsg.DisableWebPagePreview = true
	if msg.Format == connector.MarkdownV2 {
		tgMsg.ParseMode = tgbotapi.ModeMarkdownV2
	}
	if kb := keyboard(msg.Buttons); kb != nil {
		tgMsg.ReplyMarkup = *kb
	}

	_, err := c.bot.Send(tgMsg)
	if err != nil && msg.Format == connector.MarkdownV2 {
		// Fallback to plain text if the markup is rejected
		c.logger.Warn("MarkdownV2 send failed, falling back to plain text",
			"chat_id", int64(msg.ChatID),
			"error", err,
		)
		tgMsg.Text = StripMarkdownV2(msg.Text)
		tgMsg.ParseMode = ""
		_, err = c.bot.Send(tgMsg)
	}
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		// Acknowledge so the client stops showing the spinner. Off the poll
		// loop like everything else that waits on the network.
		go c.answerCallback(cb.ID)
	}

	// Photos carry only the file ID here. The file URL is resolved at
	// download time, inside the chat's own lane, so a slow getFile never
	// holds up the poll loop.
	upd, ok := toUpdate(update)
	if !ok {
		return
	}

	if err := c.handler(ctx, upd); err != nil {
		c.logger.Error("inbound handler error",
			"chat_id", int64(upd.ChatID),
			"kind", upd.Kind.String(),
			"error", err,
		)
	}
}

func (c *Connector) answerCallback(id string) {
	if _, err := c.bot.Request(tgbotapi.NewCallback(id, "")); err != nil {
		c.logger.Debug("callback answer failed", "error", err)
	}
}

// toUpdate maps a Telegram update onto a connector.Update. Photo URLs are
// left empty; Downloader resolves them.
func toUpdate(update tgbotapi.Update) (connector.Update, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil {
			return connector.Update{}, false
		}
		upd := connector.Update{
			Kind:   connector.KindButton,
			ChatID: protocol.ChatID(cb.Message.Chat.ID),
			Data:   cb.Data,
		}
		if cb.From != nil {
			upd.Handle = cb.From.UserName
		}
		return upd, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return connector.Update{}, false
	}

	upd := connector.Update{
		ChatID: protocol.ChatID(msg.Chat.ID),
		Handle: msg.Chat.UserName,
	}
	if msg.From != nil && msg.From.UserName != "" {
		upd.Handle = msg.From.UserName
	}

	switch {
	case msg.IsCommand():
		upd.Kind = connector.KindCommand
		upd.Text = msg.Command()
	case len(msg.Photo) > 0:
		// Sizes are ascending; the last one is the original.
		largest := msg.Photo[len(msg.Photo)-1]
		upd.Kind = connector.KindPhoto
		upd.Photo = &protocol.PhotoRef{FileID: largest.FileID}
	default:
		upd.Kind = connector.KindText
		upd.Text = msg.Text
	}
	return upd, true
}

func keyboard(rows [][]connector.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	var tgRows [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		tgRows = append(tgRows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgRows...)
	return &kb
}
