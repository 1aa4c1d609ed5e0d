// Package calendar exports meetings as an iCalendar feed.
package calendar

import (
	"context"
	"fmt"
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"meetbot/internal/meeting"
)

const (
	ProductID       = "-//meetbot//meetings//EN"
	DefaultDuration = 30 * time.Minute
)

// Options tune the exported events.
type Options struct {
	// Name is the calendar display name (X-WR-CALNAME).
	Name string
	// Duration is the length given to every event. Meetings carry no end time.
	Duration time.Duration
	// Divisions adds the division channel as LOCATION when known.
	Divisions map[string]meeting.Division
}

// Build converts ms into a calendar. One-off meetings in the past are left out.
// Recurring meetings become weekly events anchored at their next occurrence.
func Build(ms []meeting.Meeting, now time.Time, opt Options) (*ics.Calendar, error) {
	if opt.Duration <= 0 {
		opt.Duration = DefaultDuration
	}
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(ProductID)
	if opt.Name != "" {
		cal.SetXWRCalName(opt.Name)
	}

	stamp := now.UTC()
	for _, m := range ms {
		start, ok := meeting.NextOccurrence(now, m)
		if !ok {
			continue
		}
		ev := cal.AddEvent(m.ID + "@meetbot")
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(opt.Duration))
		ev.SetSummary(m.Name)
		ev.SetDescription(fmt.Sprintf("Division: %s", m.Division))
		if d, ok := opt.Divisions[m.Division]; ok && d.VoiceChannelID != "" {
			ev.SetLocation(d.VoiceChannelID)
		}
		if m.Recurring {
			ro := meeting.RuleOption(start)
			ev.AddProperty(ics.ComponentPropertyRrule, ro.RRuleString())
		}
		if m.SendHeadsUp {
			alarm := ev.AddAlarm()
			alarm.SetProperty(ics.ComponentPropertyAction, string(ics.ActionDisplay))
			alarm.SetProperty(ics.ComponentPropertyTrigger, fmt.Sprintf("-PT%dM", int(meeting.HeadsUpLead.Minutes())))
			alarm.SetProperty(ics.ComponentPropertyDescription, m.Name)
		}
	}
	return cal, nil
}

// Source lists the meetings and divisions to export.
type Source interface {
	Meetings(ctx context.Context) ([]meeting.Meeting, error)
	Divisions(ctx context.Context) ([]meeting.Division, error)
}

// Export writes the iCalendar document for every meeting in src to w.
func Export(ctx context.Context, w io.Writer, src Source, now time.Time, opt Options) (int, error) {
	ms, err := src.Meetings(ctx)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	if opt.Divisions == nil {
		ds, err := src.Divisions(ctx)
		if err != nil {
			return 0, fmt.Errorf("export: %w", err)
		}
		opt.Divisions = make(map[string]meeting.Division, len(ds))
		for _, d := range ds {
			opt.Divisions[d.Name] = d
		}
	}
	cal, err := Build(ms, now, opt)
	if err != nil {
		return 0, err
	}
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	return len(cal.Events()), nil
}
