package meeting

import "time"

// HeadsUpLead is how far ahead of a meeting the heads-up notification fires.
const HeadsUpLead = 5 * time.Minute

// Decision is the outcome of evaluating one meeting at one tick.
type Decision struct {
	HeadsUp bool
	Now     bool
	// Retain is false only when the meeting must be dropped from the store.
	Retain bool
}

// Fired reports whether any notification is due.
func (d Decision) Fired() bool { return d.HeadsUp || d.Now }

// Evaluate decides which notifications fire for m at the minute containing now,
// and whether m stays in the store afterwards. It is pure.
//
// Comparisons are exact minute equality. Recurring meetings match on the weekday
// of their stored date at their stored hour:minute and are always retained.
// One-off meetings check the heads-up minute first; when it matches, the "now"
// check is skipped for this tick. The "now" match retires the meeting.
func Evaluate(now time.Time, m Meeting) Decision {
	now = now.Truncate(time.Minute)
	at := m.When.Resolve(now)

	if m.Recurring {
		d := Decision{Retain: true}
		if now.Weekday() != at.Weekday() {
			return d
		}
		target := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
		if m.SendHeadsUp && now.Equal(target.Add(-HeadsUpLead)) {
			d.HeadsUp = true
		}
		if now.Equal(target) {
			d.Now = true
		}
		return d
	}

	target := at.Truncate(time.Minute)
	if m.SendHeadsUp && now.Equal(target.Add(-HeadsUpLead)) {
		return Decision{HeadsUp: true, Retain: true}
	}
	if now.Equal(target) {
		return Decision{Now: true, Retain: false}
	}
	return Decision{Retain: true}
}
