package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/helpdesk/internal/access"
	"github.com/h1v3-io/helpdesk/internal/alert"
	"github.com/h1v3-io/helpdesk/internal/api"
	"github.com/h1v3-io/helpdesk/internal/config"
	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/internal/connector/telegram"
	"github.com/h1v3-io/helpdesk/internal/connector/webhook"
	"github.com/h1v3-io/helpdesk/internal/conversation"
	"github.com/h1v3-io/helpdesk/internal/dispatch"
	"github.com/h1v3-io/helpdesk/internal/events"
	"github.com/h1v3-io/helpdesk/internal/logbuf"
	"github.com/h1v3-io/helpdesk/internal/relay"
	"github.com/h1v3-io/helpdesk/internal/scheduler"
	"github.com/h1v3-io/helpdesk/internal/store"
	"github.com/h1v3-io/helpdesk/internal/submission"
	"github.com/h1v3-io/helpdesk/internal/tracker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "helpdeskd",
		Short: "Telegram helpdesk bot with Jira ticketing",
		Long: `helpdeskd runs the Telegram bot that walks users through filing Jira
tickets, keeps the access ledger, and relays Jira webhook events back to
the chats that own the tickets.

Settings come from --config and HELPDESK_* environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, verbose)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (YAML or JSON)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	return cmd
}

func run(configPath string, verbose bool) error {
	// Set up logging
	var level slog.LevelVar
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}
	level.Set(cfg.LogLevel())
	if verbose {
		level.Set(slog.LevelDebug)
	}

	logger.Info("helpdeskd starting", "project", cfg.Jira.Project)

	// 1. Storage
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.Store.Path, "error", err)
		return err
	}
	defer st.Close()

	// 2. Outbound integrations
	var accessOpts []access.Option
	if cfg.AlertsEnabled() {
		notifier, err := alert.NewSlack(alert.Config{
			Token:   cfg.Alerts.SlackToken,
			Channel: cfg.Alerts.SlackChannel,
		}, logger.With("component", "alert"))
		if err != nil {
			logger.Error("failed to init slack alerts", "error", err)
			return err
		}
		accessOpts = append(accessOpts, access.WithNotifier(notifier))
	}

	var pub events.Publisher = events.Nop{}
	if cfg.Events.AMQPURL != "" {
		amqpPub, err := events.Dial(cfg.Events.AMQPURL, cfg.Events.Exchange, logger.With("component", "events"))
		if err != nil {
			logger.Error("failed to connect event broker", "error", err)
			return err
		}
		pub = amqpPub
	}
	defer pub.Close()

	jira, err := tracker.New(cfg.Jira.BaseURL, cfg.Jira.Token, nil, logger.With("component", "tracker"))
	if err != nil {
		logger.Error("failed to init jira client", "error", err)
		return err
	}

	// 3. Telegram + conversation core. The connector hands updates to the
	// dispatcher, which does not exist until the engine does.
	var disp *dispatch.Dispatcher
	tgConn, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, func(ctx context.Context, upd connector.Update) error {
		return disp.Dispatch(ctx, upd)
	}, logger.With("connector", "telegram"))
	if err != nil {
		logger.Error("failed to init telegram connector", "error", err)
		return err
	}

	gate := access.New(st,
		access.NewPolicy(cfg.Access.Password, cfg.Telegram.AdminIDs, cfg.Telegram.ExcludedChatID),
		logger.With("component", "access"),
		accessOpts...,
	)
	workflow := submission.New(submission.Config{
		Project:  cfg.Jira.Project,
		TaskType: cfg.Jira.TaskType,
		BugType:  cfg.Jira.BugType,
	}, jira, tgConn.Downloader(nil), st, pub, logger.With("component", "submission"))

	sessions := conversation.NewSessionStore()
	engine := conversation.New(gate, workflow, st, tgConn, sessions, logger.With("component", "conversation"))
	disp = dispatch.New(engine.Handle, logger.With("component", "dispatch"))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Scheduled jobs
	sched := scheduler.New(logger.With("component", "scheduler"))
	ttl := cfg.Sessions.IdleTTL
	if err := sched.Add("session-sweep", cfg.Sessions.SweepSchedule, func(context.Context) {
		if n := sessions.Sweep(ttl); n > 0 {
			logger.Info("idle sessions expired", "count", n, "ttl", ttl.String())
		}
	}); err != nil {
		logger.Error("failed to schedule session sweep", "error", err)
		return err
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 5. Jira webhook + admin API
	rel := relay.New(st, tgConn, pub, logger.With("component", "relay"))
	hook := webhook.New(webhook.Config{
		Secret: cfg.HTTP.WebhookSecret,
		Token:  cfg.HTTP.WebhookToken,
	}, rel, logger.With("component", "webhook"))
	if cfg.HTTP.WebhookSecret == "" && cfg.HTTP.WebhookToken == "" {
		logger.Warn("jira webhook accepts unauthenticated requests")
	}

	apiSrv := api.NewServer(st, api.Config{
		Host: cfg.HTTP.Host,
		Port: cfg.HTTP.Port,
		Key:  cfg.HTTP.APIKey,
	}, logger.With("component", "api"),
		api.WithLogs(logBuf),
		api.WithWebhook(hook),
		api.WithStats(func() api.Stats {
			return api.Stats{
				Sessions: sessions.Len(),
				Lanes:    disp.Active(),
				Jobs:     sched.Names(),
			}
		}),
	)
	go safeGo(logger, "api-server", func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server failed", "error", err)
		}
	})

	// 6. Telegram long polling
	go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	cancel()
	tgConn.Stop()
	waitLanes(disp, 10*time.Second, logger)
	logger.Info("helpdeskd stopped")
	return nil
}

// waitLanes gives in-flight updates a bounded grace period.
func waitLanes(disp *dispatch.Dispatcher, grace time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		disp.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("shutdown grace expired with updates in flight", "lanes", disp.Active())
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
