package config

import (
	"os"
	"strings"
)

type Config struct {
	Transport   TransportConfig    `json:"transport"`
	Logging     LoggingConfig      `json:"logging"`
	Scheduler   SchedulerConfig    `json:"scheduler"`
	Notifier    *NotifierConfig    `json:"notifier,omitempty"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`

	// Divisions seeds the division directory. Entries here win over stored
	// divisions with the same name.
	Divisions []DivisionConfig `json:"divisions,omitempty"`
}

// TransportConfig selects the chat platform.
//
// Kind is "telegram", "discord" or "console". The token may be given inline or
// through the environment variable named by token_env (preferred).
type TransportConfig struct {
	Kind     string `json:"kind"`
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	// PollTimeout is a Go duration string (telegram long polling).
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChannel receives WARN+ log records when logging.chat is enabled.
	LogChannel string `json:"log_channel,omitempty"`
}

// ResolvedToken returns the inline token or the value of token_env.
func (t TransportConfig) ResolvedToken() string {
	if s := strings.TrimSpace(t.Token); s != "" {
		return s
	}
	if env := strings.TrimSpace(t.TokenEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the minute tick loop.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true (set false to keep the loop stopped)
//   - write_retries: 2
//   - write_retry_delay: "500ms"
//   - catch_up: "0s" (only the current minute is evaluated)
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Timezone meetings are evaluated in (IANA TZ). Empty means local.
	Timezone        string `json:"timezone,omitempty"`
	WriteRetries    *int   `json:"write_retries,omitempty"`
	WriteRetryDelay string `json:"write_retry_delay,omitempty"`
	CatchUp         string `json:"catch_up,omitempty"`
}

// IsEnabled reports whether the tick loop should run; an omitted flag means true.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig selects the event store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data.json" }
//	"storage": { "driver": "postgres", "dsn_env": "DATABASE_URL" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	DSNEnv      string `json:"dsn_env,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ResolvedDSN returns the inline DSN or the value of dsn_env.
func (s StorageConfig) ResolvedDSN() string {
	if v := strings.TrimSpace(s.DSN); v != "" {
		return v
	}
	if env := strings.TrimSpace(s.DSNEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// MaintenanceConfig controls cron-driven store housekeeping.
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec or descriptor, default "@hourly"
	Timeout  string `json:"timeout,omitempty"`
	// PruneStaleAfter removes one-off meetings older than this duration. Empty keeps them.
	PruneStaleAfter string `json:"prune_stale_after,omitempty"`
}

type DivisionConfig struct {
	Name           string `json:"name"`
	ChannelID      string `json:"channel_id"`
	RoleID         string `json:"role_id,omitempty"`
	VoiceChannelID string `json:"voice_channel_id,omitempty"`
}
