package scheduler

import "time"

// UntilNextMinute returns the wait from now to the start of the next minute.
// The result is in (0, 1m].
func UntilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// minutesToEvaluate lists the minute starts a tick at now must evaluate, given the
// last evaluated minute and the catch-up bound.
func minutesToEvaluate(last, now time.Time, catchUp time.Duration) []time.Time {
	now = now.Truncate(time.Minute)
	if last.IsZero() || !now.After(last) {
		return []time.Time{now}
	}
	from := last.Add(time.Minute)
	if floor := now.Add(-catchUp.Truncate(time.Minute)); from.Before(floor) {
		from = floor
	}
	out := make([]time.Time, 0, int(now.Sub(from)/time.Minute)+1)
	for t := from; !t.After(now); t = t.Add(time.Minute) {
		out = append(out, t)
	}
	return out
}
