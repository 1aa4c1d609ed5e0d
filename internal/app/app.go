package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetbot/internal/config"
	"meetbot/internal/directory"
	"meetbot/internal/eventbus"
	"meetbot/internal/maintenance"
	"meetbot/internal/meeting"
	"meetbot/internal/notifier"
	rtsup "meetbot/internal/runtime/supervisor"
	"meetbot/internal/scheduler"
	"meetbot/internal/storage"
	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	dir      *directory.Directory
	meetings *meeting.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	maint    *maintenance.Service

	started time.Time
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
	clock   scheduler.Clock
}

// WithAdapter replaces the adapter selected by transport.kind.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithClock drives the scheduler from c instead of time.Now.
func WithClock(c scheduler.Clock) Option { return func(o *options) { o.clock = c } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(MapLoggingConfig(cfg))

	ad := o.adapter
	if ad == nil {
		if ad, err = NewAdapter(cfg.Transport, log); err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}
	logSvc.SetSender(ad)

	sc, _ := MapStorageConfig(cfg)
	store, err := storage.Open(sc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	divs, _ := MapDivisions(cfg)
	dir := directory.New(store, divs)
	ncfg, _ := MapNotifierConfig(cfg)
	schedCfg, _ := MapSchedulerConfig(cfg)
	mcfg, _ := MapMaintenanceConfig(cfg)

	var schedOpts []scheduler.Option
	if o.clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(o.clock))
	}
	notif := notifier.New(ncfg, ad, log, bus, store)

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		dir:      dir,
		meetings: meeting.NewService(store, storage.Auditor{Store: store, Actor: "bot", Log: log}, log.With(logx.String("comp", "meetings"))),
		notif:    notif,
		sched:    scheduler.New(schedCfg, store, dir, notif, ad, log, bus, schedOpts...),
		maint:    maintenance.New(mcfg, store, log, bus),
	}
	if cmd, ok := ad.(kit.Commander); ok {
		registerCommands(cmd, a)
	}
	a.log.Info("app built", logx.String("transport", ad.Name()), logx.String("storage", sc.Driver), logx.Int("static_divisions", len(divs)))
	return a, nil
}

func (a *App) Meetings() *meeting.Service        { return a.meetings }
func (a *App) Scheduler() *scheduler.Service     { return a.sched }
func (a *App) Notifier() *notifier.Service       { return a.notif }
func (a *App) Directory() *directory.Directory   { return a.dir }
func (a *App) Bus() eventbus.Bus                 { return a.bus }
func (a *App) Store() storage.Store              { return a.store }
func (a *App) Logger() logx.Logger               { return a.log }
func (a *App) Maintenance() *maintenance.Service { return a.maint }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	if err := a.adapter.Start(runCtx); err != nil {
		return fmt.Errorf("start %s adapter: %w", a.adapter.Name(), err)
	}
	// The notifier outlives the app context so Stop can drain its queue.
	if a.notif.Enabled() {
		a.notif.Start(context.WithoutCancel(runCtx))
	}
	if err := a.maint.Start(runCtx); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	a.watchEvents()
	a.watchConfig()

	a.log.Info("app started")
	return nil
}

// TickOnce runs a single scheduler tick with the adapter and notifier started,
// then shuts down, draining queued notifications. It serves cron-driven
// deployments where no long-running process is wanted.
func (a *App) TickOnce(ctx context.Context) (scheduler.TickResult, error) {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.started = time.Now()
	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return scheduler.TickResult{}, fmt.Errorf("start %s adapter: %w", a.adapter.Name(), err)
	}
	if a.notif.Enabled() {
		a.notif.Start(context.WithoutCancel(a.sup.Context()))
	}
	res := a.sched.Tick(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := a.Stop(stopCtx, StopCommandDone)
	if res.WriteErr != "" {
		return res, fmt.Errorf("tick write failed: %s", res.WriteErr)
	}
	return res, err
}

// watchEvents logs bus traffic at debug level.
func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

// applyConfig fans a validated config out to every hot-reloadable component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed in sections read only at startup; restart required", logx.Strings("sections", restart))
	}

	a.logs.Apply(MapLoggingConfig(newCfg))

	if divs, err := MapDivisions(newCfg); err == nil {
		a.dir.SetStatic(divs)
	}

	if ncfg, err := MapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(context.WithoutCancel(ctx))
		}
	}

	if scfg, err := MapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(scfg)
		switch {
		case wasEnabled && !scfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !wasEnabled && scfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if mcfg, err := MapMaintenanceConfig(newCfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(ctx, mcfg); err != nil {
		a.log.Warn("maintenance reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "maintenance", time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped", logx.Duration("uptime", time.Since(a.started)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	if errors.Is(err, storage.ErrClosed) {
		return nil
	}
	return err
}

// step runs one shutdown step with an upper bound so one component can't stall
// the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
