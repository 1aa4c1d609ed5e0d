package meeting

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"
)

// Occurrence is one instance in time at which a meeting's "now" notification is due.
type Occurrence struct {
	Meeting Meeting
	At      time.Time
}

var rruleDays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// CronSpec returns the standard 5-field cron expression of a recurring meeting.
// ref supplies the location and any missing date components.
func CronSpec(m Meeting, ref time.Time) string {
	at := m.When.Resolve(ref)
	return fmt.Sprintf("%d %d * * %d", at.Minute(), at.Hour(), int(at.Weekday()))
}

// NextOccurrence returns the first "now" minute of m at or after the minute containing now.
// It returns false for one-off meetings whose time has passed.
func NextOccurrence(now time.Time, m Meeting) (time.Time, bool) {
	now = now.Truncate(time.Minute)
	if !m.Recurring {
		at := m.When.Resolve(now).Truncate(time.Minute)
		if at.Before(now) {
			return time.Time{}, false
		}
		return at, true
	}
	sched, err := cron.ParseStandard(CronSpec(m, now))
	if err != nil {
		return time.Time{}, false
	}
	// cron's Next is strictly after its argument.
	next := sched.Next(now.Add(-time.Second))
	return next, !next.IsZero()
}

// Rule returns the weekly recurrence rule of a recurring meeting. The rule is anchored
// at the stored date, moved back whole weeks until it is not after notAfter, since the
// matcher fires on the weekday regardless of the stored date.
func Rule(m Meeting, notAfter time.Time) (*rrule.RRule, error) {
	start := m.When.Resolve(notAfter).Truncate(time.Minute)
	for start.After(notAfter) {
		start = start.AddDate(0, 0, -7)
	}
	return rrule.NewRRule(RuleOption(start))
}

// RuleOption describes a weekly recurrence starting at start.
func RuleOption(start time.Time) rrule.ROption {
	return rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   start,
		Byweekday: []rrule.Weekday{rruleDays[start.Weekday()]},
	}
}

// Upcoming lists every occurrence of ms in [from, until], sorted by time.
func Upcoming(from, until time.Time, ms []Meeting) ([]Occurrence, error) {
	from = from.Truncate(time.Minute)
	out := make([]Occurrence, 0, len(ms))
	for _, m := range ms {
		if !m.Recurring {
			at := m.When.Resolve(from).Truncate(time.Minute)
			if !at.Before(from) && !at.After(until) {
				out = append(out, Occurrence{Meeting: m, At: at})
			}
			continue
		}
		r, err := Rule(m, from)
		if err != nil {
			return nil, fmt.Errorf("meeting %s: %w", m.ID, err)
		}
		for _, at := range r.Between(from, until, true) {
			out = append(out, Occurrence{Meeting: m, At: at})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
