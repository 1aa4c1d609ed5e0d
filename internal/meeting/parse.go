package meeting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dayPattern   = regexp.MustCompile(`^(tomorrow|today|(\d{1,2})[-/](\d{1,2})(?:[-/](\d{4}))?)$`)
	clockPattern = regexp.MustCompile(`^(now|(\d{1,2})hr|(\d{1,2})(?::(\d{1,2}))?)$`)
)

// ParseWhen interprets the operator-facing date and time inputs relative to now.
//
//	day:   "today", "tomorrow", "MM-DD", "MM/DD", "MM-DD-YYYY", "MM/DD/YYYY"
//	clock: "now", "Nhr" (now + N hours), "H" or "H:MM" read with ampm ("AM" or "PM")
//
// The result is truncated to the minute, in now's location.
func ParseWhen(day, clock, ampm string, now time.Time) (time.Time, error) {
	day = strings.ToLower(strings.TrimSpace(day))
	clock = strings.ToLower(strings.TrimSpace(clock))

	dm := dayPattern.FindStringSubmatch(day)
	if dm == nil {
		return time.Time{}, fmt.Errorf("%w: date must be one of 'today', 'tomorrow', 'MM/DD' or 'MM/DD/YYYY', got %q", ErrInvalidWhen, day)
	}
	cm := clockPattern.FindStringSubmatch(clock)
	if cm == nil {
		return time.Time{}, fmt.Errorf("%w: time must be one of 'now', 'Nhr' or 'HH:MM', got %q", ErrInvalidWhen, clock)
	}

	t := now
	switch dm[1] {
	case "today":
	case "tomorrow":
		t = t.AddDate(0, 0, 1)
	default:
		month, _ := strconv.Atoi(dm[2])
		date, _ := strconv.Atoi(dm[3])
		year := now.Year()
		if dm[4] != "" {
			year, _ = strconv.Atoi(dm[4])
		}
		t = time.Date(year, time.Month(month), date, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		if t.Month() != time.Month(month) || t.Day() != date {
			return time.Time{}, fmt.Errorf("%w: no such date %q", ErrInvalidWhen, day)
		}
	}

	switch {
	case cm[1] == "now":
	case cm[2] != "":
		hours, _ := strconv.Atoi(cm[2])
		t = t.Add(time.Duration(hours) * time.Hour)
	default:
		hour, _ := strconv.Atoi(cm[3])
		minute := 0
		if cm[4] != "" {
			minute, _ = strconv.Atoi(cm[4])
		}
		if hour > 12 || minute > 59 {
			return time.Time{}, fmt.Errorf("%w: no such time %q", ErrInvalidWhen, clock)
		}
		hour %= 12
		switch strings.ToUpper(strings.TrimSpace(ampm)) {
		case "PM":
			hour += 12
		case "AM":
		default:
			return time.Time{}, fmt.Errorf("%w: expected AM or PM, got %q", ErrInvalidWhen, ampm)
		}
		t = time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
	}

	return t.Truncate(time.Minute), nil
}
