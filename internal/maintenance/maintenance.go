// Package maintenance runs cron-scheduled housekeeping against the store:
// compaction (dedup pruning, journal folding, WAL checkpoint) and an optional
// sweep of one-off meetings whose time passed without them ever firing.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"meetbot/internal/eventbus"
	"meetbot/internal/meeting"
	logx "meetbot/pkg/logx"
)

const TypeRun = "maintenance.run"

type Config struct {
	Enabled bool
	// Schedule is a 5-field cron spec or a descriptor such as "@hourly".
	Schedule string
	Timeout  time.Duration
	Timezone string
	// PruneStaleAfter removes one-off meetings whose time is older than this.
	// Zero keeps them.
	PruneStaleAfter time.Duration
}

// Store is the part of the storage layer housekeeping touches.
type Store interface {
	Compact(ctx context.Context) error
	UpdateMeetings(ctx context.Context, fn func([]meeting.Meeting) ([]meeting.Meeting, error)) error
}

// Run is the outcome of one housekeeping pass.
type Run struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Pruned   int           `json:"pruned"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	parser  cron.Parser
	c       *cron.Cron
	running bool
	last    Run

	store Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

func New(cfg Config, store Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    withDefaults(cfg),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		store:  store,
		log:    log.With(logx.String("comp", "maintenance")),
		bus:    bus,
		now:    time.Now,
	}
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return cfg
}

// Validate checks the schedule without starting anything.
func (s *Service) Validate(cfg Config) error {
	cfg = withDefaults(cfg)
	if _, err := s.parser.Parse(cfg.Schedule); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", cfg.Schedule, err)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.cfg.Enabled {
		return nil
	}
	if err := s.startLocked(ctx); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *Service) startLocked(ctx context.Context) error {
	loc := loadLocation(s.cfg.Timezone)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("service started", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

// Stop removes the schedule and waits for a running pass, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.running = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out with a pass in flight")
	}
}

// Apply swaps config live. The cron is rebuilt when the schedule or zone changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = withDefaults(cfg)
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.running
	c := s.c
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
		return nil
	case !running && cfg.Enabled:
		return s.Start(ctx)
	case running && (old.Schedule != cfg.Schedule || old.Timezone != cfg.Timezone):
		if c != nil {
			<-c.Stop().Done()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.startLocked(ctx)
	}
	return nil
}

// RunOnce performs one housekeeping pass.
func (s *Service) RunOnce(ctx context.Context) Run {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	run := Run{Started: s.now()}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var errs []string
	if cfg.PruneStaleAfter > 0 {
		n, err := s.pruneStale(ctx, run.Started.Add(-cfg.PruneStaleAfter))
		run.Pruned = n
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := s.store.Compact(ctx); err != nil {
		errs = append(errs, "compact: "+err.Error())
	}
	run.Duration = time.Since(run.Started)
	run.Error = strings.Join(errs, "; ")

	if run.Error != "" {
		s.log.Warn("maintenance pass failed", logx.String("err", run.Error), logx.Duration("took", run.Duration))
	} else {
		s.log.Debug("maintenance pass done", logx.Int("pruned", run.Pruned), logx.Duration("took", run.Duration))
	}

	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
	eventbus.Publish(s.bus, TypeRun, run)
	return run
}

// pruneStale drops one-off meetings that resolve before cutoff. Such meetings
// can never match again.
func (s *Service) pruneStale(ctx context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	err := s.store.UpdateMeetings(ctx, func(cur []meeting.Meeting) ([]meeting.Meeting, error) {
		pruned = 0
		out := cur[:0:0]
		for _, m := range cur {
			if !m.Recurring && m.When.HasDate() && m.When.Resolve(cutoff).Before(cutoff) {
				pruned++
				continue
			}
			out = append(out, m)
		}
		return out, nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune stale: %w", err)
	}
	if pruned > 0 {
		s.log.Info("pruned stale one-off meetings", logx.Int("count", pruned))
	}
	return pruned, nil
}

// Last returns the most recent pass.
func (s *Service) Last() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
