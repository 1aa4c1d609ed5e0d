// Package meeting holds the meeting model, the pure occurrence matcher that decides
// which notifications are due at a given minute, and the use-cases external actors
// (CLI, operators) use to create and delete meetings.
package meeting

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("meeting not found")
	ErrInvalidWhen    = errors.New("invalid meeting time")
	ErrNameRequired   = errors.New("meeting name is required")
	ErrDivisionNeeded = errors.New("meeting division is required")
)

// When is a sparse wall-clock record. Every component is optional; Resolve fills
// the gaps from a reference time.
type When struct {
	Year        *int `json:"year,omitempty"`
	Month       *int `json:"month,omitempty"`
	Day         *int `json:"day,omitempty"`
	Hour        *int `json:"hour,omitempty"`
	Minute      *int `json:"minute,omitempty"`
	Second      *int `json:"second,omitempty"`
	Millisecond *int `json:"millisecond,omitempty"`
}

// WhenOf captures every component of t.
func WhenOf(t time.Time) When {
	return When{
		Year:        ptr(t.Year()),
		Month:       ptr(int(t.Month())),
		Day:         ptr(t.Day()),
		Hour:        ptr(t.Hour()),
		Minute:      ptr(t.Minute()),
		Second:      ptr(t.Second()),
		Millisecond: ptr(t.Nanosecond() / int(time.Millisecond)),
	}
}

// Resolve turns w into a concrete time in ref's location. Missing year, month and
// day take ref's calendar date; missing time-of-day components are zero.
func (w When) Resolve(ref time.Time) time.Time {
	return time.Date(
		or(w.Year, ref.Year()),
		time.Month(or(w.Month, int(ref.Month()))),
		or(w.Day, ref.Day()),
		or(w.Hour, 0),
		or(w.Minute, 0),
		or(w.Second, 0),
		or(w.Millisecond, 0)*int(time.Millisecond),
		ref.Location(),
	)
}

// HasClock reports whether hour and minute are both set.
func (w When) HasClock() bool { return w.Hour != nil && w.Minute != nil }

// HasDate reports whether year, month and day are all set.
func (w When) HasDate() bool { return w.Year != nil && w.Month != nil && w.Day != nil }

// Meeting is one tracked event.
type Meeting struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Division    string `json:"division"`
	When        When   `json:"time"`
	Recurring   bool   `json:"recurring"`
	SendHeadsUp bool   `json:"sendHeadsUp"`
}

// Division maps a group to where and whom its meetings are announced.
type Division struct {
	Name string `json:"name"`
	// ChannelID is the primary text channel notifications go to.
	ChannelID string `json:"channelId"`
	// RoleID is the audience tag mentioned in every notification.
	RoleID string `json:"roleId"`
	// VoiceChannelID is the secondary channel the meeting takes place in.
	VoiceChannelID string `json:"voiceChannelId"`
}

func ptr(v int) *int { return &v }

func or(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
