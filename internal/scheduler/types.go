package scheduler

import (
	"context"
	"time"

	"meetbot/internal/meeting"
	kit "meetbot/internal/transport"
)

// Config controls the tick loop.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means local
	// WriteRetries is how many times a failed store write is retried within a tick.
	WriteRetries    int
	WriteRetryDelay time.Duration
	// CatchUp bounds how many missed minutes a late tick still evaluates
	// (process stall, suspend). Zero evaluates only the current minute.
	CatchUp time.Duration
}

// EventStore is the meeting list the loop reads and rewrites.
type EventStore interface {
	UpdateMeetings(ctx context.Context, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error
}

// Directory resolves a meeting's division.
type Directory interface {
	Resolve(ctx context.Context, name string) (meeting.Division, error)
}

// Notifier queues a message for best-effort delivery.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Clock returns the current time.
type Clock func() time.Time

// TickResult summarizes one tick.
type TickResult struct {
	At        time.Time `json:"at"`
	Minutes   int       `json:"minutes"`
	Evaluated int       `json:"evaluated"`
	Fired     int       `json:"fired"`
	Retired   int       `json:"retired"`
	Skipped   int       `json:"skipped,omitempty"`
	WriteErr  string    `json:"write_err,omitempty"`
}

// Snapshot is a point-in-time view of the loop for status output.
type Snapshot struct {
	Enabled       bool
	Running       bool
	Timezone      string
	Ticks         uint64
	WriteFailures uint64
	Notified      uint64
	LastTick      time.Time
	NextTick      time.Time
}

type firing struct {
	m    meeting.Meeting
	kind meeting.Kind
	at   time.Time
}
