package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"meetbot/internal/directory"
	"meetbot/internal/eventbus"
	"meetbot/internal/meeting"
	rtsup "meetbot/internal/runtime/supervisor"
	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

type Option func(*Service)

// WithClock replaces time.Now; tests drive ticks with a fixed clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location
	sup *rtsup.Supervisor

	log    logx.Logger
	bus    eventbus.Bus
	clock  Clock
	store  EventStore
	dir    Directory
	notify Notifier
	render meeting.Renderer

	// tickMu serializes ticks; last is the last evaluated minute.
	tickMu sync.Mutex
	last   time.Time
	// retire holds meetings that finished during a tick whose write failed.
	// They are dropped on the next successful write unless edited meanwhile.
	retire map[string]meeting.Meeting

	ticks         atomic.Uint64
	writeFailures atomic.Uint64
	notified      atomic.Uint64
	lastTick      atomic.Int64 // unix nano
	nextTick      atomic.Int64 // unix nano
}

func New(cfg Config, store EventStore, dir Directory, notify Notifier, render meeting.Renderer, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		clock:  time.Now,
		store:  store,
		dir:    dir,
		notify: notify,
		render: render,
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps config live. The running loop picks it up on its next tick.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.applyLocked(cfg)
	tz := s.loc.String()
	s.mu.Unlock()
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.log.Info("timezone changed", logx.String("tz", tz))
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	}
	if cfg.WriteRetryDelay <= 0 {
		cfg.WriteRetryDelay = 500 * time.Millisecond
	}
	if cfg.CatchUp < 0 {
		cfg.CatchUp = 0
	}
	s.cfg = cfg
	s.loc = loadLocation(cfg.Timezone, s.log)
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the zone meetings are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start runs tick 0 immediately and then one tick per minute boundary until Stop.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	// A panicking tick restarts the loop; the restart runs an immediate tick and
	// dedup keys keep that from repeating notifications.
	s.sup.GoRestart("tick.loop", s.run,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Bool("enabled", s.cfg.Enabled))
}

// Stop cancels the pending rearm and waits for an in-flight tick, bounded by ctx.
// A tick interrupted by ctx either committed its write or left the store unchanged.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("stop incomplete", logx.Err(err))
	}
	s.nextTick.Store(0)
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) run(ctx context.Context) error {
	var lastMinute time.Time
	for {
		now := s.clock()
		// Guard against early wakeups (wall clock steps): one tick per minute.
		if m := now.Truncate(time.Minute); !m.Equal(lastMinute) {
			lastMinute = m
			if s.Enabled() {
				s.Tick(ctx)
			}
		}

		wait := UntilNextMinute(s.clock())
		s.nextTick.Store(s.clock().Add(wait).UnixNano())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick evaluates every meeting at the current minute (plus any missed minutes
// within the catch-up bound), writes back the retained meetings and queues the
// due notifications. It is safe to call concurrently with the loop.
func (s *Service) Tick(ctx context.Context) TickResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	s.mu.Unlock()

	now := s.clock().In(loc).Truncate(time.Minute)
	minutes := minutesToEvaluate(s.last, now, cfg.CatchUp)
	res := TickResult{At: now, Minutes: len(minutes)}

	var fired []firing
	var finished []meeting.Meeting
	evaluate := func(cur []meeting.Meeting) ([]meeting.Meeting, error) {
		// May run more than once when the write is retried.
		fired, finished = fired[:0], finished[:0]
		res.Evaluated, res.Retired = len(cur), 0
		retained := make([]meeting.Meeting, 0, len(cur))
		for _, m := range cur {
			if prev, ok := s.retire[m.ID]; ok && reflect.DeepEqual(prev, m) {
				res.Retired++
				continue
			}
			keep := true
			for _, at := range minutes {
				d := meeting.Evaluate(at, m)
				if d.HeadsUp {
					fired = append(fired, firing{m: m, kind: meeting.KindHeadsUp, at: at})
				}
				if d.Now {
					fired = append(fired, firing{m: m, kind: meeting.KindNow, at: at})
				}
				if !d.Retain {
					keep = false
					break
				}
			}
			if keep {
				retained = append(retained, m)
			} else {
				finished = append(finished, m)
				res.Retired++
			}
		}
		return retained, nil
	}

	err := s.writeWithRetry(ctx, cfg, evaluate)
	if err != nil {
		s.writeFailures.Add(1)
		res.WriteErr = err.Error()
		s.log.Error("tick write failed; store left unchanged", logx.Time("minute", now), logx.Err(err))
		eventbus.Publish(s.bus, eventbus.TypeTickWriteFailed, res)
		// A failed read leaves nothing to dispatch. A failed write still dispatches:
		// the minute will not match again, and dedup keys cover a retry.
		if s.retire == nil {
			s.retire = make(map[string]meeting.Meeting)
		}
		for _, m := range finished {
			s.retire[m.ID] = m
		}
	} else {
		s.retire = nil
	}
	s.last = now

	res.Fired, res.Skipped = s.dispatch(ctx, fired)
	s.ticks.Add(1)
	s.lastTick.Store(now.UnixNano())
	if res.Fired > 0 || res.Retired > 0 || res.Minutes > 1 {
		s.log.Info("tick", logx.Time("minute", now), logx.Int("minutes", res.Minutes), logx.Int("fired", res.Fired), logx.Int("retired", res.Retired), logx.Int("skipped", res.Skipped))
	} else {
		s.log.Debug("tick", logx.Time("minute", now), logx.Int("meetings", res.Evaluated))
	}
	eventbus.Publish(s.bus, eventbus.TypeTickDone, res)
	return res
}

func (s *Service) writeWithRetry(ctx context.Context, cfg Config, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error {
	delay := cfg.WriteRetryDelay
	var err error
	for attempt := 0; attempt <= cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("tick write failed; retrying", logx.Int("attempt", attempt), logx.Err(err))
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
			delay *= 2
		}
		if err = s.store.UpdateMeetings(ctx, fn); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// dispatch queues one notification per firing. Failures are isolated per meeting.
func (s *Service) dispatch(ctx context.Context, fired []firing) (sent, skipped int) {
	for _, f := range fired {
		div, err := s.dir.Resolve(ctx, f.m.Division)
		if err != nil {
			skipped++
			if errors.Is(err, directory.ErrUnknownDivision) {
				s.log.Warn("meeting references unknown division; notification skipped",
					logx.String("meeting", f.m.ID), logx.String("division", f.m.Division))
				eventbus.Publish(s.bus, eventbus.TypeUnknownDivision, f.m)
			} else {
				s.log.Error("division lookup failed", logx.String("meeting", f.m.ID), logx.Err(err))
			}
			continue
		}

		n := kit.Notification{
			ChannelID: div.ChannelID,
			Text:      meeting.Text(f.kind, f.m, div, s.render),
			DedupKey:  DedupKey(f.m.ID, f.kind, f.at),
		}
		if err := s.notify.Notify(ctx, n); err != nil {
			skipped++
			s.log.Warn("notification not queued", logx.String("meeting", f.m.ID), logx.String("kind", string(f.kind)), logx.Err(err))
			continue
		}
		sent++
		s.notified.Add(1)

		typ := eventbus.TypeStarting
		if f.kind == meeting.KindHeadsUp {
			typ = eventbus.TypeHeadsUp
		}
		eventbus.Publish(s.bus, typ, f.m)
		if f.kind == meeting.KindNow && !f.m.Recurring {
			eventbus.Publish(s.bus, eventbus.TypeRetired, f.m)
		}
	}
	return sent, skipped
}

// DedupKey identifies one notification of one meeting occurrence.
func DedupKey(meetingID string, kind meeting.Kind, minute time.Time) string {
	return fmt.Sprintf("meeting|%s|%s|%d", meetingID, kind, minute.Truncate(time.Minute).Unix())
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.sup != nil,
		Timezone: s.loc.String(),
	}
	s.mu.Unlock()
	snap.Ticks = s.ticks.Load()
	snap.WriteFailures = s.writeFailures.Load()
	snap.Notified = s.notified.Load()
	if ns := s.lastTick.Load(); ns != 0 {
		snap.LastTick = time.Unix(0, ns)
	}
	if ns := s.nextTick.Load(); ns != 0 {
		snap.NextTick = time.Unix(0, ns)
	}
	return snap
}
