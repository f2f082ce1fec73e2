// Package config loads helpdesk settings from an optional file and
// HELPDESK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. HELPDESK_JIRA_TOKEN.
const EnvPrefix = "HELPDESK"

// Config is the top-level helpdesk configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Access   AccessConfig   `mapstructure:"access"`
	Jira     JiraConfig     `mapstructure:"jira"`
	Store    StoreConfig    `mapstructure:"store"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Events   EventsConfig   `mapstructure:"events"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Log      LogConfig      `mapstructure:"log"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token          string  `mapstructure:"token"`
	AdminIDs       []int64 `mapstructure:"admin_ids"`
	ExcludedChatID int64   `mapstructure:"excluded_chat_id"`
}

// AccessConfig holds the shared password new chats must present.
type AccessConfig struct {
	Password string `mapstructure:"password"`
}

// JiraConfig holds tracker settings.
type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Token    string `mapstructure:"token"` // personal access token
	Project  string `mapstructure:"project"`
	TaskType string `mapstructure:"task_type"`
	BugType  string `mapstructure:"bug_type"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig holds admin API and webhook listener settings.
type HTTPConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	WebhookToken  string `mapstructure:"webhook_token"`
}

// EventsConfig enables lifecycle events over AMQP when AMQPURL is set.
type EventsConfig struct {
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

// AlertsConfig enables Slack block alerts when both fields are set.
type AlertsConfig struct {
	SlackToken   string `mapstructure:"slack_token"`
	SlackChannel string `mapstructure:"slack_channel"`
}

// SessionsConfig controls idle conversation expiry.
type SessionsConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaults = map[string]any{
	"telegram.token":            "",
	"telegram.admin_ids":        []int64{},
	"telegram.excluded_chat_id": 0,
	"access.password":           "",
	"jira.base_url":             "",
	"jira.token":                "",
	"jira.project":              "",
	"jira.task_type":            "Task",
	"jira.bug_type":             "Bug",
	"store.path":                "helpdesk.db",
	"http.host":                 "0.0.0.0",
	"http.port":                 8080,
	"http.api_key":              "",
	"http.webhook_secret":       "",
	"http.webhook_token":        "",
	"events.amqp_url":           "",
	"events.exchange":           "helpdesk.events",
	"alerts.slack_token":        "",
	"alerts.slack_channel":      "",
	"sessions.idle_ttl":         "24h",
	"sessions.sweep_schedule":   "@every 10m",
	"log.level":                 "info",
}

// Load reads configuration from path (optional, any format viper
// understands), then applies HELPDESK_* environment overrides and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Jira.BaseURL = strings.TrimRight(cfg.Jira.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for required fields and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}
	if c.Access.Password == "" {
		errs = append(errs, "access.password is required")
	}
	if c.Jira.BaseURL == "" {
		errs = append(errs, "jira.base_url is required")
	}
	if c.Jira.Token == "" {
		errs = append(errs, "jira.token is required")
	}
	if c.Jira.Project == "" {
		errs = append(errs, "jira.project is required")
	}
	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port %d is out of range", c.HTTP.Port))
	}
	if c.Events.AMQPURL != "" && c.Events.Exchange == "" {
		errs = append(errs, "events.exchange is required when events.amqp_url is set")
	}
	if (c.Alerts.SlackToken == "") != (c.Alerts.SlackChannel == "") {
		errs = append(errs, "alerts.slack_token and alerts.slack_channel must be set together")
	}
	if c.Sessions.IdleTTL <= 0 {
		errs = append(errs, "sessions.idle_ttl must be positive")
	}
	if _, err := cron.ParseStandard(c.Sessions.SweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("sessions.sweep_schedule: %v", err))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := parseLevel(c.Log.Level)
	return lvl
}

// AlertsEnabled reports whether Slack block alerts are configured.
func (c *Config) AlertsEnabled() bool {
	return c.Alerts.SlackToken != "" && c.Alerts.SlackChannel != ""
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is not a level", s)
	}
	return lvl, nil
}
