package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/internal/directory"
	"meetbot/internal/eventbus"
	"meetbot/internal/meeting"
	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

type memStore struct {
	mu       sync.Mutex
	meetings []meeting.Meeting
	failures int // fail this many writes first
	writes   int
}

func (s *memStore) UpdateMeetings(_ context.Context, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(append([]meeting.Meeting(nil), s.meetings...))
	if err != nil {
		return err
	}
	s.writes++
	if s.writes <= s.failures {
		return errors.New("disk full")
	}
	s.meetings = next
	return nil
}

func (s *memStore) add(m meeting.Meeting) {
	s.mu.Lock()
	s.meetings = append(s.meetings, m)
	s.mu.Unlock()
}

func (s *memStore) set(ms ...meeting.Meeting) {
	s.mu.Lock()
	s.meetings = append([]meeting.Meeting(nil), ms...)
	s.mu.Unlock()
}

func (s *memStore) list() []meeting.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]meeting.Meeting(nil), s.meetings...)
}

type memNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (n *memNotifier) Notify(_ context.Context, msg kit.Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	return nil
}

func (n *memNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.ChannelID+": "+s.Text)
	}
	return out
}

type plain struct{}

func (plain) Mention(tag string) string {
	if tag == "" {
		return ""
	}
	return "@" + tag
}
func (plain) ChannelLink(id string) string { return id }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func at(d, h, mi int) time.Time {
	return time.Date(2025, 1, d, h, mi, 0, 0, time.UTC)
}

var engDivision = meeting.Division{Name: "eng", ChannelID: "chan-eng", RoleID: "eng-team", VoiceChannelID: "room-1"}

type fixture struct {
	svc    *Service
	store  *memStore
	notify *memNotifier
	clock  *fakeClock
	bus    eventbus.Bus
}

func newFixture(t *testing.T, cfg Config, ms ...meeting.Meeting) fixture {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	f := fixture{
		store:  &memStore{meetings: ms},
		notify: &memNotifier{},
		clock:  &fakeClock{},
		bus:    eventbus.New(),
	}
	dir := directory.New(nil, []meeting.Division{engDivision})
	f.svc = New(cfg, f.store, dir, f.notify, plain{}, logx.Nop(), f.bus, WithClock(f.clock.Now))
	return f
}

func oneOff(id string, t time.Time, headsUp bool) meeting.Meeting {
	return meeting.Meeting{ID: id, Name: "Standup", Division: "eng", When: meeting.WhenOf(t), SendHeadsUp: headsUp}
}

func TestTick_OneOffLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true}, oneOff("m1", at(6, 14, 0), true))
	ctx := context.Background()

	f.clock.Set(at(6, 13, 55).Add(20 * time.Second))
	res := f.svc.Tick(ctx)
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, 0, res.Retired)
	require.Len(t, f.store.list(), 1)

	f.clock.Set(at(6, 13, 56))
	assert.Equal(t, 0, f.svc.Tick(ctx).Fired)

	f.clock.Set(at(6, 14, 0))
	res = f.svc.Tick(ctx)
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, 1, res.Retired)
	assert.Empty(t, f.store.list())

	assert.Equal(t, []string{
		"chan-eng: @eng-team Standup in 5 minutes in room-1!",
		"chan-eng: @eng-team Standup now in room-1!",
	}, f.notify.texts())
}

func TestTick_RecurringIsRetained(t *testing.T) {
	t.Parallel()
	// 2025-01-01 is a Wednesday.
	m := meeting.Meeting{ID: "r1", Name: "Sync", Division: "eng", When: meeting.WhenOf(at(1, 9, 0)), Recurring: true}
	f := newFixture(t, Config{Enabled: true}, m)
	ctx := context.Background()

	for _, day := range []int{8, 15} {
		f.clock.Set(at(day, 9, 0))
		res := f.svc.Tick(ctx)
		assert.Equal(t, 1, res.Fired, "day %d", day)
		assert.Equal(t, 0, res.Retired)
	}
	f.clock.Set(at(9, 9, 0))
	assert.Equal(t, 0, f.svc.Tick(ctx).Fired, "thursday")
	assert.Len(t, f.store.list(), 1)
}

func TestTick_UnknownDivisionDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	ghost := oneOff("ghost", at(6, 10, 0), false)
	ghost.Division = "ghost"
	f := newFixture(t, Config{Enabled: true}, ghost, oneOff("m1", at(6, 10, 0), false))
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	f.clock.Set(at(6, 10, 0))
	res := f.svc.Tick(context.Background())

	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Retired, "due one-offs retire even when undeliverable")
	assert.Equal(t, []string{"chan-eng: @eng-team Standup now in room-1!"}, f.notify.texts())

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Contains(t, types, eventbus.TypeUnknownDivision)
	assert.Contains(t, types, eventbus.TypeTickDone)
}

func TestTick_WriteRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, WriteRetries: 2, WriteRetryDelay: time.Millisecond}, oneOff("m1", at(6, 10, 0), false))
	f.store.failures = 1

	f.clock.Set(at(6, 10, 0))
	res := f.svc.Tick(context.Background())

	assert.Empty(t, res.WriteErr)
	assert.Equal(t, 1, res.Fired, "firings are collected once per committed evaluation")
	assert.Empty(t, f.store.list())
	assert.Len(t, f.notify.texts(), 1)
}

func TestTick_WriteFailureRetiresOnRecovery(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, WriteRetries: 1, WriteRetryDelay: time.Millisecond}, oneOff("m1", at(6, 10, 0), false))
	f.store.failures = 5

	f.clock.Set(at(6, 10, 0))
	res := f.svc.Tick(context.Background())

	assert.NotEmpty(t, res.WriteErr)
	assert.Len(t, f.store.list(), 1, "failed write leaves the store unchanged")
	assert.Equal(t, uint64(1), f.svc.Snapshot().WriteFailures)
	assert.Len(t, f.notify.texts(), 1)

	f.store.failures = 0
	f.clock.Set(at(6, 10, 1))
	res = f.svc.Tick(context.Background())
	assert.Empty(t, res.WriteErr)
	assert.Equal(t, 0, res.Fired)
	assert.Equal(t, 1, res.Retired)
	assert.Empty(t, f.store.list(), "finished meeting is removed once the write recovers")
	assert.Len(t, f.notify.texts(), 1)
}

func TestTick_WriteFailureWithCatchUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, CatchUp: 10 * time.Minute}, oneOff("m1", at(6, 10, 0), false))
	f.store.failures = 1
	ctx := context.Background()

	for mi := 0; mi <= 3; mi++ {
		f.clock.Set(at(6, 10, mi))
		f.svc.Tick(ctx)
	}

	assert.Empty(t, f.store.list())
	assert.Len(t, f.notify.texts(), 1)
	assert.Equal(t, uint64(1), f.svc.Snapshot().WriteFailures)
}

func TestTick_WriteFailureKeepsEditedMeeting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true}, oneOff("m1", at(6, 10, 0), false))
	f.store.failures = 1
	ctx := context.Background()

	f.clock.Set(at(6, 10, 0))
	require.NotEmpty(t, f.svc.Tick(ctx).WriteErr)

	// Rescheduled before the store recovered.
	f.store.set(oneOff("m1", at(6, 11, 0), false))
	f.clock.Set(at(6, 10, 1))
	res := f.svc.Tick(ctx)
	assert.Empty(t, res.WriteErr)
	assert.Equal(t, 0, res.Retired)
	require.Len(t, f.store.list(), 1)

	f.clock.Set(at(6, 11, 0))
	assert.Equal(t, 1, f.svc.Tick(ctx).Fired)
	assert.Empty(t, f.store.list())
}

func TestTick_ConcurrentCreateIsNotLost(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true})
	ctx := context.Background()
	f.clock.Set(at(6, 10, 0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			f.store.add(oneOff(fmt.Sprintf("m%d", i), at(7, 10, 0), false))
		}(i)
		go func() {
			defer wg.Done()
			f.svc.Tick(ctx)
		}()
	}
	wg.Wait()
	assert.Len(t, f.store.list(), 50)
}

func TestTick_CatchUpEvaluatesMissedMinutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, CatchUp: 5 * time.Minute}, oneOff("m1", at(6, 10, 2), false))
	ctx := context.Background()

	f.clock.Set(at(6, 10, 0))
	f.svc.Tick(ctx)
	f.clock.Set(at(6, 10, 4))
	res := f.svc.Tick(ctx)

	assert.Equal(t, 4, res.Minutes)
	assert.Equal(t, 1, res.Fired)
	require.Len(t, f.notify.sent, 1)
	assert.Equal(t, DedupKey("m1", meeting.KindNow, at(6, 10, 2)), f.notify.sent[0].DedupKey)
}

func TestTick_Timezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	local := time.Date(2025, 1, 6, 9, 0, 0, 0, loc)
	f := newFixture(t, Config{Enabled: true, Timezone: "Asia/Tokyo"}, oneOff("m1", local, false))

	f.clock.Set(local.UTC())
	assert.Equal(t, 1, f.svc.Tick(context.Background()).Fired)
}

func TestApply_InvalidTimezoneFallsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true})
	f.svc.Apply(Config{Enabled: false, Timezone: "Not/AZone"})

	assert.Equal(t, time.Local, f.svc.Location())
	assert.False(t, f.svc.Enabled())
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true}, oneOff("m1", at(6, 10, 0), false))
	f.clock.Set(at(6, 10, 0).Add(58 * time.Second))
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	f.svc.Start(context.Background())
	select {
	case ev := <-events:
		for ev.Type != eventbus.TypeTickDone {
			ev = <-events
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick 0 did not run")
	}
	assert.True(t, f.svc.Snapshot().Running)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.svc.Stop(ctx)

	snap := f.svc.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, uint64(1), snap.Ticks)
	assert.Empty(t, f.store.list())
}

func TestDedupKey(t *testing.T) {
	t.Parallel()
	a := DedupKey("m1", meeting.KindNow, at(6, 10, 0).Add(30*time.Second))
	b := DedupKey("m1", meeting.KindNow, at(6, 10, 0))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DedupKey("m1", meeting.KindHeadsUp, at(6, 10, 0)))
}
