package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/helpdesk/internal/config"
	"github.com/h1v3-io/helpdesk/internal/logbuf"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client talks to the helpdeskd admin API.
type client struct {
	base string
	key  string
	http *http.Client
}

func newRootCmd() *cobra.Command {
	c := &client{http: &http.Client{Timeout: 10 * time.Second}}

	root := &cobra.Command{
		Use:          "helpdeskctl",
		Short:        "Inspect and administer a running helpdeskd",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.base, "url", envOr("HELPDESK_API_URL", "http://localhost:8080"), "Admin API base URL")
	root.PersistentFlags().StringVar(&c.key, "key", os.Getenv("HELPDESK_API_KEY"), "Admin API key")

	root.AddCommand(
		newHealthCmd(c),
		newTasksCmd(c),
		newBlockedCmd(c),
		newUnblockCmd(c),
		newLogsCmd(c),
		newConfigCmd(),
	)
	return root
}

func newHealthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health and runtime counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, "/api/health", nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(body))
			return nil
		},
	}
}

func newTasksCmd(c *client) *cobra.Command {
	var (
		owner int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tickets created through the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if owner != 0 {
				q.Set("owner", strconv.FormatInt(owner, 10))
			}
			body, err := c.do(cmd.Context(), http.MethodGet, "/api/tasks?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			var tasks []protocol.TaskRecord
			if err := json.Unmarshal(body, &tasks); err != nil {
				return fmt.Errorf("decode tasks: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "no tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(out, "%-12s %-14d %-20s %s\n", t.Key, int64(t.Owner), t.Status, t.Summary)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Only tasks owned by this chat ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	return cmd
}

func newBlockedCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "List blocked chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, "/api/blocked", nil)
			if err != nil {
				return err
			}
			var entries []protocol.BlockEntry
			if err := json.Unmarshal(body, &entries); err != nil {
				return fmt.Errorf("decode blocked: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				handle := e.Handle
				if handle == "" {
					handle = "-"
				}
				fmt.Fprintf(out, "%-14d @%-20s %s  %s\n", int64(e.ChatID), handle, e.CreatedAt.Format(time.RFC3339), e.Reason)
			}
			return nil
		},
	}
}

func newUnblockCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <handle>",
		Short: "Remove the block on a Telegram handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.do(cmd.Context(), http.MethodDelete, "/api/blocked/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", args[0])
			return nil
		},
	}
}

func newLogsCmd(c *client) *cobra.Command {
	var (
		chat  int64
		level string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if level != "" {
				q.Set("level", level)
			}
			if chat != 0 {
				q.Set("chat", strconv.FormatInt(chat, 10))
			}
			body, err := c.do(cmd.Context(), http.MethodGet, "/api/logs?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			var entries []logbuf.Entry
			if err := json.Unmarshal(body, &entries); err != nil {
				return fmt.Errorf("decode logs: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				attrs, _ := json.Marshal(e.Attrs)
				fmt.Fprintf(out, "%s %-5s %s %s\n", e.Time.Format(time.TimeOnly), e.Level, e.Message, attrs)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&chat, "chat", 0, "Only entries for this chat ID")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().IntVar(&limit, "limit", 200, "Max results")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a config file, including HELPDESK_* overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	})
	return cmd
}

// --- Helpers ---

func (c *client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
