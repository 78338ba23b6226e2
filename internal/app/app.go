// Package app assembles the daemon: configuration, logging, persistence,
// the cycle engine and the schedule controller, plus the glue loops that
// apply config reloads and surface auto-disablement notices.
package app

import (
	"context"
	"fmt"

	"recurd/internal/agent"
	"recurd/internal/config"
	"recurd/internal/controller"
	"recurd/internal/engine"
	"recurd/internal/eventbus"
	"recurd/internal/runtime/supervisor"
	"recurd/internal/store"
	logx "recurd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgMgr  *config.Manager

	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus
	st     store.Store
	eng    *engine.Engine
	ctl    *controller.Controller
	sup    *supervisor.Supervisor

	// boot-time sections that only take effect on restart
	bootStore config.StoreConfig
	bootAgent config.AgentConfig

	cfgCh    chan *config.Config
	busCh    <-chan eventbus.Event
	busUnsub func()
}

// New loads the config file and builds every component. Nothing runs yet;
// call Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	bus := eventbus.New()
	logSvc, log := logx.New(loggingConfig(cfg.Logging), bus)

	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		return validate(c)
	})

	scfg, err := storeConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	st, err := store.Open(scfg, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	inv, err := agent.NewCommandInvoker(agent.CommandConfig{
		Command:        cfg.Agent.Command,
		Args:           cfg.Agent.Args,
		MaxOutputBytes: cfg.Agent.MaxOutputBytes,
	}, log.With(logx.String("comp", "agent")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	ecfg, err := engineConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgMgr:    mgr,
		logSvc:    logSvc,
		log:       log,
		bus:       bus,
		st:        st,
		bootStore: cfg.Store,
		bootAgent: cfg.Agent,
	}
	a.sup = supervisor.New(context.Background(),
		supervisor.WithLogger(log.With(logx.String("comp", "supervisor"))))
	a.eng = engine.New(ecfg, engine.Deps{
		Store:   st,
		Invoker: inv,
		Bus:     bus,
		Log:     log.With(logx.String("comp", "engine")),
		Spawner: a.sup,
	})
	a.ctl = controller.New(st, a.eng, log.With(logx.String("comp", "controller")))
	return a, nil
}

// Controller is the schedule management surface (set/get/remove/pause/resume).
func (a *App) Controller() *controller.Controller { return a.ctl }

// Snapshot exposes engine diagnostics.
func (a *App) Snapshot() engine.Snapshot { return a.eng.Snapshot() }

// Start brings the pipeline up: engine workers, persisted schedules, the
// config watcher and the bus observer. It does not block.
func (a *App) Start(ctx context.Context) error {
	if err := a.eng.Start(); err != nil {
		return err
	}
	if err := a.eng.Restore(ctx); err != nil {
		return fmt.Errorf("restore schedules: %w", err)
	}

	a.cfgCh = a.cfgMgr.Subscribe(4)
	a.sup.Go0("config.apply", a.applyLoop)
	a.sup.GoRestart("config.watch", a.cfgMgr.Watch)

	a.busCh, a.busUnsub = a.bus.Subscribe(64)
	a.sup.Go0("events.observe", a.observeLoop)

	a.log.Info("recurd started", logx.String("config", a.cfgPath))
	return nil
}

// Stop shuts down in dependency order: engine first so in-flight cycles
// complete and persist, then the glue loops, then the store and log sinks.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if err := a.eng.Stop(ctx); err != nil {
		firstErr = err
	}

	if a.busUnsub != nil {
		a.busUnsub()
	}
	a.cfgMgr.Unsubscribe(a.cfgCh)
	if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := a.st.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("recurd stopped")
	_ = a.logSvc.Close()
	return firstErr
}

// applyLoop consumes validated config reloads. Logging and engine tunables
// apply live; store/agent changes need a process restart.
func (a *App) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			a.apply(cfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logSvc.Apply(loggingConfig(cfg.Logging))

	ecfg, err := engineConfig(cfg)
	if err != nil {
		// The validator catches this before publish; keep the running tunables.
		a.log.Warn("engine config rejected on reload", logx.Err(err))
	} else {
		a.eng.Apply(ecfg)
	}

	if cfg.Store != a.bootStore {
		a.log.Info("store config changed; takes effect after restart")
	}
	if cfg.Agent.Command != a.bootAgent.Command {
		a.log.Info("agent command changed; takes effect after restart")
	}
	a.log.Debug("config applied", logx.String("config", a.cfgPath))
}

// observeLoop surfaces engine notices from the bus, in particular the
// one-shot auto-disablement event.
func (a *App) observeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.busCh:
			if !ok {
				return
			}
			switch ev.Type {
			case engine.EventScheduleDisabled:
				d, ok := ev.Data.(engine.DisabledEvent)
				if !ok {
					continue
				}
				a.log.Warn("schedule auto-disabled after consecutive failures",
					logx.String("session", d.SessionID),
					logx.Int("error_count", d.ErrorCount),
					logx.Int("max_errors", d.MaxErrors),
					logx.String("last_error", d.LastError))
			case engine.EventCycleFailed:
				c, ok := ev.Data.(engine.CycleEvent)
				if !ok {
					continue
				}
				a.log.Debug("cycle failed",
					logx.String("session", c.SessionID),
					logx.String("cycle", c.CycleID),
					logx.String("error", c.Error))
			}
		}
	}
}
