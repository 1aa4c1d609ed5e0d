package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"meetbot/internal/config"
	"meetbot/internal/maintenance"
	"meetbot/internal/meeting"
	"meetbot/internal/notifier"
	"meetbot/internal/scheduler"
	"meetbot/internal/storage"
	logx "meetbot/pkg/logx"
)

// DefaultStorePath is used when the storage section is omitted.
const DefaultStorePath = "./data.json"

// MapStorageConfig maps the storage section. An omitted section selects the
// file driver at DefaultStorePath.
func MapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: DefaultStorePath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file", "json":
		if path == "" {
			path = DefaultStorePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pg":
		return storage.Config{Driver: "postgres", DSN: sc.ResolvedDSN()}, nil
	case "none":
		return storage.Config{}, errors.New("storage.driver=none: meetings need a store")
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// MapNotifierConfig maps the notifier section, filling omitted fields with defaults.
func MapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	def := config.DefaultNotifier()
	n := def
	if cfg != nil && cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         orInt(n.Workers, def.Workers),
		QueueSize:       orInt(n.QueueSize, def.QueueSize),
		RatePerSec:      orInt(n.RatePerSec, def.RatePerSec),
		RetryMax:        orInt(n.RetryMax, def.RetryMax),
		DedupMaxEntries: orInt(n.DedupMaxEntries, def.DedupMaxEntries),
		PersistDedup:    n.PersistDedup,
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 10*time.Minute); err != nil {
		return notifier.Config{}, err
	}

	switch {
	case out.Workers < 0:
		return notifier.Config{}, errors.New("notifier.workers must be >= 0")
	case out.QueueSize < 0:
		return notifier.Config{}, errors.New("notifier.queue_size must be >= 0")
	case out.RatePerSec < 0:
		return notifier.Config{}, errors.New("notifier.rate_per_sec must be >= 0")
	case out.RetryMax < 0:
		return notifier.Config{}, errors.New("notifier.retry_max must be >= 0")
	case out.DedupMaxEntries < 0:
		return notifier.Config{}, errors.New("notifier.dedup_max_entries must be >= 0")
	}
	// Dedup keys are per minute; a shorter window lets a restarted tick repeat a message.
	if out.DedupWindow < 2*time.Minute {
		return notifier.Config{}, errors.New("notifier.dedup_window must be >= 2m")
	}
	return out, nil
}

func MapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	sc := cfg.Scheduler
	out := scheduler.Config{
		Enabled:      sc.IsEnabled(),
		Timezone:     strings.TrimSpace(sc.Timezone),
		WriteRetries: 2,
	}
	if sc.WriteRetries != nil {
		if *sc.WriteRetries < 0 {
			return scheduler.Config{}, errors.New("scheduler.write_retries must be >= 0")
		}
		out.WriteRetries = *sc.WriteRetries
	}
	var err error
	if out.WriteRetryDelay, err = config.ParseDurationOrDefault("scheduler.write_retry_delay", sc.WriteRetryDelay, 500*time.Millisecond); err != nil {
		return scheduler.Config{}, err
	}
	if out.CatchUp, err = config.ParseDurationField("scheduler.catch_up", sc.CatchUp); err != nil {
		return scheduler.Config{}, err
	}
	if out.CatchUp > 24*time.Hour {
		return scheduler.Config{}, errors.New("scheduler.catch_up must be <= 24h")
	}
	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", out.Timezone, err)
		}
	}
	return out, nil
}

func MapMaintenanceConfig(cfg *config.Config) (maintenance.Config, error) {
	out := maintenance.Config{}
	if cfg == nil {
		return out, nil
	}
	out.Timezone = strings.TrimSpace(cfg.Scheduler.Timezone)
	mc := cfg.Maintenance
	if mc == nil {
		return out, nil
	}
	out.Enabled = mc.Enabled
	out.Schedule = strings.TrimSpace(mc.Schedule)
	var err error
	if out.Timeout, err = config.ParseDurationOrDefault("maintenance.timeout", mc.Timeout, time.Minute); err != nil {
		return maintenance.Config{}, err
	}
	if out.PruneStaleAfter, err = config.ParseDurationField("maintenance.prune_stale_after", mc.PruneStaleAfter); err != nil {
		return maintenance.Config{}, err
	}
	return out, nil
}

func MapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChannelID:  strings.TrimSpace(cfg.Transport.LogChannel),
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

// MapDivisions converts the static division list. Names must be unique and
// every division needs a channel.
func MapDivisions(cfg *config.Config) ([]meeting.Division, error) {
	if cfg == nil {
		return nil, nil
	}
	out := make([]meeting.Division, 0, len(cfg.Divisions))
	seen := make(map[string]struct{}, len(cfg.Divisions))
	for i, d := range cfg.Divisions {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("divisions[%d].name is required", i)
		}
		if strings.TrimSpace(d.ChannelID) == "" {
			return nil, fmt.Errorf("divisions[%d].channel_id is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("divisions[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		out = append(out, meeting.Division{
			Name:           name,
			ChannelID:      strings.TrimSpace(d.ChannelID),
			RoleID:         strings.TrimSpace(d.RoleID),
			VoiceChannelID: strings.TrimSpace(d.VoiceChannelID),
		})
	}
	return out, nil
}

// Validate checks every section the way startup and hot reload map them.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := MapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := MapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := MapSchedulerConfig(cfg); err != nil {
		return err
	}
	mc, err := MapMaintenanceConfig(cfg)
	if err != nil {
		return err
	}
	if err := maintenance.New(mc, nil, logx.Nop(), nil).Validate(mc); err != nil {
		return err
	}
	if _, err := MapDivisions(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("transport.poll_timeout", cfg.Transport.PollTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Kind)) {
	case "", "console", "telegram", "discord":
	default:
		return fmt.Errorf("unknown transport.kind: %s", cfg.Transport.Kind)
	}
	return nil
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
