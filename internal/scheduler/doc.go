// Package scheduler runs the minute tick that announces meetings.
//
// Each tick takes the store's read-modify-write lock once, evaluates every meeting
// with meeting.Evaluate, writes back the retained subset and then hands the due
// notifications to the notifier. Ticks are re-armed on minute boundaries
// (UntilNextMinute), so tick duration never causes drift.
//
// A tick never blocks on delivery: the notifier queues and returns. Notifications
// carry a dedup key of meeting id, kind and minute, so re-running a minute (manual
// Tick, loop restart) cannot announce a meeting twice.
package scheduler
