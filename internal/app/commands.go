package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"meetbot/internal/meeting"
	"meetbot/internal/notifier"
	"meetbot/internal/scheduler"
	kit "meetbot/internal/transport"
)

const (
	defaultUpcomingWindow = 24 * time.Hour
	maxUpcomingWindow     = 14 * 24 * time.Hour
	maxListed             = 25
)

// registerCommands installs the read-only chat commands. Mutations go through
// the CLI, which records them in the audit log.
func registerCommands(c kit.Commander, a *App) {
	c.HandleCommand("meetings", "list tracked meetings", func(ctx context.Context, _ []string) (string, error) {
		ms, err := a.meetings.List(ctx)
		if err != nil {
			return "", err
		}
		return FormatMeetings(ms, a.now()), nil
	})
	c.HandleCommand("upcoming", "meetings in the next N hours (default 24)", func(ctx context.Context, args []string) (string, error) {
		window, err := parseWindow(args)
		if err != nil {
			return "", err
		}
		ms, err := a.meetings.List(ctx)
		if err != nil {
			return "", err
		}
		now := a.now()
		occ, err := meeting.Upcoming(now, now.Add(window), ms)
		if err != nil {
			return "", err
		}
		return FormatUpcoming(occ, window), nil
	})
	c.HandleCommand("divisions", "list divisions", func(ctx context.Context, _ []string) (string, error) {
		ds, err := a.dir.List(ctx)
		if err != nil {
			return "", err
		}
		return FormatDivisions(ds), nil
	})
	c.HandleCommand("recent", "last delivered notifications", func(context.Context, []string) (string, error) {
		return FormatRecent(a.notif.Snapshot(), 10), nil
	})
	c.HandleCommand("status", "scheduler and notifier status", func(context.Context, []string) (string, error) {
		return FormatStatus(a.sched.Snapshot(), time.Since(a.started)), nil
	})
}

func (a *App) now() time.Time { return time.Now().In(a.sched.Location()) }

func parseWindow(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return defaultUpcomingWindow, nil
	}
	h, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(args[0]), "h"))
	if err != nil || h <= 0 {
		return 0, fmt.Errorf("hours must be a positive number, got %q", args[0])
	}
	return min(time.Duration(h)*time.Hour, maxUpcomingWindow), nil
}

// FormatMeetings renders one line per meeting with its next occurrence.
func FormatMeetings(ms []meeting.Meeting, now time.Time) string {
	if len(ms) == 0 {
		return "No meetings scheduled."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d meeting(s):", len(ms))
	for i, m := range ms {
		if i == maxListed {
			fmt.Fprintf(&b, "\n… and %d more", len(ms)-maxListed)
			break
		}
		next := "passed"
		if at, ok := meeting.NextOccurrence(now, m); ok {
			next = at.Format("Mon Jan 2 15:04")
		}
		kind := "once"
		if m.Recurring {
			kind = "weekly"
		}
		fmt.Fprintf(&b, "\n• %s [%s] %s, next %s", m.Name, m.Division, kind, next)
	}
	return b.String()
}

func FormatUpcoming(occ []meeting.Occurrence, window time.Duration) string {
	if len(occ) == 0 {
		return fmt.Sprintf("Nothing in the next %s.", humanHours(window))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Next %s:", humanHours(window))
	for i, o := range occ {
		if i == maxListed {
			fmt.Fprintf(&b, "\n… and %d more", len(occ)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n• %s %s [%s]", o.At.Format("Mon 15:04"), o.Meeting.Name, o.Meeting.Division)
	}
	return b.String()
}

func FormatDivisions(ds []meeting.Division) string {
	if len(ds) == 0 {
		return "No divisions configured."
	}
	var b strings.Builder
	for i, d := range ds {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• %s → %s", d.Name, d.ChannelID)
	}
	return b.String()
}

func FormatStatus(s scheduler.Snapshot, uptime time.Duration) string {
	state := "stopped"
	switch {
	case s.Running && s.Enabled:
		state = "running"
	case !s.Enabled:
		state = "disabled"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduler %s (%s), up %s\n", state, s.Timezone, uptime.Truncate(time.Second))
	fmt.Fprintf(&b, "Ticks %d, notified %d, write failures %d", s.Ticks, s.Notified, s.WriteFailures)
	if !s.LastTick.IsZero() {
		fmt.Fprintf(&b, "\nLast tick %s", s.LastTick.Format("15:04"))
	}
	return b.String()
}

// FormatRecent lists the newest n delivered notifications, newest first.
func FormatRecent(items []notifier.HistoryItem, n int) string {
	if len(items) == 0 {
		return "Nothing delivered yet."
	}
	var b strings.Builder
	b.WriteString("Recently delivered:")
	for i := len(items) - 1; i >= 0 && i >= len(items)-n; i-- {
		it := items[i]
		fmt.Fprintf(&b, "\n• %s %s: %s", it.At.Format("Jan 2 15:04"), it.ChannelID, it.Text)
	}
	return b.String()
}

func humanHours(d time.Duration) string {
	h := int(d / time.Hour)
	if h == 1 {
		return "hour"
	}
	return fmt.Sprintf("%d hours", h)
}
