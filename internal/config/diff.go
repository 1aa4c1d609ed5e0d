package config

import (
	"reflect"
	"sort"
	"strings"

	logx "meetbot/pkg/logx"
)

// SummarizeConfigChange returns a compact sorted list of changed sections and
// safe structured attrs for logging. Tokens and DSNs are never included; only
// whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	ot, nt := oldCfg.Transport, newCfg.Transport
	if !strings.EqualFold(strings.TrimSpace(ot.Kind), strings.TrimSpace(nt.Kind)) ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.LogChannel) != strings.TrimSpace(nt.LogChannel) ||
		strings.TrimSpace(ot.TokenEnv) != strings.TrimSpace(nt.TokenEnv) ||
		ot.Token != nt.Token {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.kind", strings.TrimSpace(nt.Kind)),
			logx.Bool("transport.token_set", nt.ResolvedToken() != ""),
			logx.Bool("transport.log_channel_set", strings.TrimSpace(nt.LogChannel) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.catch_up", strings.TrimSpace(newCfg.Scheduler.CatchUp)),
		)
	}

	// A nil notifier section means defaults; compare effective values.
	oldN, newN := notifierOrDefault(oldCfg.Notifier), notifierOrDefault(newCfg.Notifier)
	if oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", nS.ResolvedDSN() != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	var oM, nM MaintenanceConfig
	if oldCfg.Maintenance != nil {
		oM = *oldCfg.Maintenance
	}
	if newCfg.Maintenance != nil {
		nM = *newCfg.Maintenance
	}
	if oM != nM {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", nM.Enabled),
			logx.String("maintenance.schedule", strings.TrimSpace(nM.Schedule)),
			logx.String("maintenance.prune_stale_after", strings.TrimSpace(nM.PruneStaleAfter)),
		)
	}

	if hashJSON(oldCfg.Divisions) != hashJSON(newCfg.Divisions) {
		changed = append(changed, "divisions")
		attrs = append(attrs, logx.Int("divisions.count", len(newCfg.Divisions)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that are only read at startup.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if s == "storage" || s == "transport" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultNotifier is the effective notifier section when it is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "10m",
		DedupMaxEntries: 2000,
	}
}

func notifierOrDefault(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return DefaultNotifier()
	}
	return *n
}
