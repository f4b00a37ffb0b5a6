// Package app wires configuration, storage, extraction, delivery and the
// scheduler into a runnable process, either a single scan or a daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"stockwatch/internal/config"
	"stockwatch/internal/eventbus"
	"stockwatch/internal/extract"
	"stockwatch/internal/observability/status"
	"stockwatch/internal/pipeline"
	"stockwatch/internal/runtime/supervisor"
	"stockwatch/internal/storage"
	"stockwatch/internal/task/scheduler"
	logx "stockwatch/pkg/logx"
)

const scanSchedule = "scan"

// Options are command-line overrides.
type Options struct {
	ForceNotify bool
	// LookupEnv overrides os.LookupEnv (tests).
	LookupEnv func(string) (string, bool)
	// Clock overrides time.Now for the pipeline (tests).
	Clock func() time.Time
	// Extractor replaces the browser extractor, across reloads too.
	Extractor extract.Extractor
}

type App struct {
	cfgm *config.Manager
	opts Options

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	bus   eventbus.Bus
	pipe  *pipeline.Pipeline
	sched *scheduler.Service

	sup *supervisor.Supervisor
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing is started.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfgm.SetEnv(lookup)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogConfig())
	cfgm.SetLogger(log)

	sc, err := cfg.StorageOptions()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ext, err := buildExtractor(cfg, opts, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	notif, err := buildNotifier(cfg, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	pipe := pipeline.New(pipelineOptions(cfg, opts.ForceNotify), pipeline.Deps{
		Store:     store,
		Extractor: ext,
		Notifier:  notif,
		Logger:    log,
		Clock:     opts.Clock,
		Events:    bus,
	})

	return &App{
		cfgm:  cfgm,
		opts:  opts,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		store: store,
		bus:   bus,
		pipe:  pipe,
		sched: scheduler.New(cfg.SchedulerOptions(), log),
	}, nil
}

// RunOnce performs a single scan and releases resources.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	defer a.close()
	return a.pipe.Run(ctx)
}

// Done is closed when the daemon stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon: an initial scan, the schedule, config hot reload and
// the optional status server.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })

	if err := a.registerSchedule(cfg); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("schedule disabled; running one scan and idling for reloads")
	}

	a.sup.Go("scan.initial", func(c context.Context) error {
		a.scanJob(c)
		return nil
	})

	if cfg.Status.Enabled {
		srv := status.New(cfg.StatusOptions(), status.Deps{
			Runner: a.pipe,
			Runs:   a.store,
			Health: func() any { return a.sup.Snapshot() },
		}, a.log)
		events, unsub := a.bus.Subscribe(16)
		a.sup.Go("status.observe", func(c context.Context) error {
			defer unsub()
			return srv.Observe(c, events)
		})
		a.sup.GoRestart("status.serve", 500*time.Millisecond, 10*time.Second, srv.Serve)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return nil
				case <-t.C:
					sdNotify(a.log, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("daemon started",
		logx.Bool("schedule", a.sched.Enabled()),
		logx.String("spec", cfg.ScheduleSpec()),
		logx.Bool("status", cfg.Status.Enabled),
	)
	return nil
}

// scanJob runs the pipeline for the scheduler. Overlaps are skipped; run
// errors are already logged and recorded, so they do not fail the job.
func (a *App) scanJob(ctx context.Context) {
	if _, err := a.pipe.Run(ctx); errors.Is(err, pipeline.ErrRunInProgress) {
		a.log.Info("scan skipped: previous run still active")
	}
}

func (a *App) registerSchedule(cfg *config.Config) error {
	timeout, err := cfg.ScheduleTimeout()
	if err != nil {
		return err
	}
	return a.sched.AddSchedule(scanSchedule, cfg.ScheduleSpec(), timeout, func(ctx context.Context) error {
		a.scanJob(ctx)
		return nil
	})
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
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
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply pushes a validated config into the running components. Components
// that cannot be rebuilt keep their previous settings.
func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.Strs("sections", restart))
	}

	if err := a.logs.Apply(newCfg.LogConfig()); err != nil {
		a.log.Warn("log file disabled", logx.Err(err))
	}
	a.pipe.Apply(pipelineOptions(newCfg, a.opts.ForceNotify))

	ext, err := buildExtractor(newCfg, a.opts, a.log)
	if err != nil {
		a.log.Warn("invalid source config; keeping previous", logx.Err(err))
	}
	notif, nerr := buildNotifier(newCfg, a.log)
	if nerr != nil {
		a.log.Warn("invalid webhook config; keeping previous", logx.Err(nerr))
	}
	if err == nil && nerr == nil {
		a.pipe.Rewire(ext, notif)
	}

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(newCfg.SchedulerOptions())
	if err := a.registerSchedule(newCfg); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	}
	switch nowEnabled := newCfg.Schedule.Enabled; {
	case wasEnabled && !nowEnabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
		a.log.Info("schedule disabled via config")
	case !wasEnabled && nowEnabled:
		a.sched.Start(ctx)
		a.log.Info("schedule enabled via config")
	}

	fields := append([]logx.Field{logx.Strs("changed", sections)}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}

// Stop shuts the daemon down. Each step is bounded so one component cannot
// stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// an in-flight scan sees the canceled context; give it a moment to save
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
