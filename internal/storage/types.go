package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetbot/internal/meeting"
)

var (
	ErrDisabled    = errors.New("storage disabled")
	ErrClosed      = errors.New("storage closed")
	ErrDuplicateID = errors.New("duplicate meeting id")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON document + jsonl side files
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL, DSN required
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the scheduler, the directory and the use-cases.
type Store interface {
	Meetings(ctx context.Context) ([]meeting.Meeting, error)
	// UpdateMeetings replaces the meeting list with fn's result while holding the
	// store's exclusive lock. If fn fails nothing is written.
	UpdateMeetings(ctx context.Context, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error

	Divisions(ctx context.Context) ([]meeting.Division, error)
	UpdateDivisions(ctx context.Context, fn func([]meeting.Division) ([]meeting.Division, error)) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// Compact drops expired dedup state and reclaims space.
	Compact(ctx context.Context) error
	Close() error
}

// AuditEntry records an operator or scheduler action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	Actor    string
	Action   string
	Target   string
	OK       bool
	Error    string
	MetaJSON string
}

func checkMeetings(ms []meeting.Meeting) error {
	seen := make(map[string]struct{}, len(ms))
	for _, m := range ms {
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

func checkDivisions(ds []meeting.Division) error {
	seen := make(map[string]struct{}, len(ds))
	for _, d := range ds {
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("duplicate division %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}
