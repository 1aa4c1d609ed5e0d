package cli

import (
	"fmt"
	"os"
	"time"

	"meetbot/internal/app"
	"meetbot/internal/config"
	"meetbot/internal/directory"
	"meetbot/internal/meeting"
	"meetbot/internal/storage"
	logx "meetbot/pkg/logx"
)

// storeEnv is what the operator commands work with: the store and the
// use-cases on top of it, without any chat transport.
type storeEnv struct {
	cfg      *config.Config
	store    storage.Store
	meetings *meeting.Service
	dir      *directory.Directory
	loc      *time.Location
	log      logx.Logger
}

func cliLogger(opts *RootOptions) logx.Logger {
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	return logx.NewWriter(os.Stderr, level)
}

func openStoreEnv(opts *RootOptions) (*storeEnv, error) {
	cfg, err := config.NewConfigManager(opts.Config).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := app.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := cliLogger(opts)

	sc, _ := app.MapStorageConfig(cfg)
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	divs, _ := app.MapDivisions(cfg)
	schedCfg, _ := app.MapSchedulerConfig(cfg)

	loc := time.Local
	if schedCfg.Timezone != "" {
		loc, _ = time.LoadLocation(schedCfg.Timezone)
	}
	actor := "cli"
	if u := os.Getenv("USER"); u != "" {
		actor = "cli:" + u
	}
	return &storeEnv{
		cfg:      cfg,
		store:    st,
		meetings: meeting.NewService(st, storage.Auditor{Store: st, Actor: actor, Log: log}, log),
		dir:      directory.New(st, divs),
		loc:      loc,
		log:      log,
	}, nil
}

func (e *storeEnv) Close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("close store", logx.Err(err))
	}
}

func (e *storeEnv) now() time.Time { return time.Now().In(e.loc) }
