// Package engine arms per-session timers and turns their fires into agent
// cycles. It enforces single-flight per session, counts consecutive
// failures, and auto-disables a schedule when the threshold trips.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"recurd/internal/agent"
	"recurd/internal/eventbus"
	"recurd/internal/gate"
	"recurd/internal/schedule"
	"recurd/internal/store"
	logx "recurd/pkg/logx"
)

// Deps are the engine's collaborators. Store and Invoker are required.
type Deps struct {
	Store   store.Store
	Invoker agent.Invoker
	Bus     eventbus.Bus
	Log     logx.Logger
	Spawner Spawner
	// Risky overrides the safe-writes classifier; nil uses the default.
	Risky gate.Classifier
}

type Engine struct {
	log   logx.Logger
	bus   eventbus.Bus
	store store.Store
	inv   agent.Invoker
	risky gate.Classifier
	spawn Spawner

	cfgMu sync.Mutex
	cfg   Config

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	queue    chan fireItem
	sessions map[string]*session
	wg       sync.WaitGroup

	clk *clock

	inFlight atomic.Int64
	drops    atomic.Uint64

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// session is the in-memory state for one armed schedule.
//
// flight is the single-flight region: a timer fire TryLocks it (dropping the
// fire on contention), an Arm Locks it (queueing the edit behind a running
// cycle), and Disarm never touches it (removal must not wait on a cycle).
type session struct {
	id     string
	flight sync.Mutex

	mu   sync.Mutex // guards the fields below
	cfg  schedule.Config
	trig schedule.Trigger
}

type fireItem struct {
	s       *session
	nominal time.Time
}

func New(cfg Config, d Deps) *Engine {
	e := &Engine{
		log:      d.Log,
		bus:      d.Bus,
		store:    d.Store,
		inv:      d.Invoker,
		risky:    d.Risky,
		spawn:    d.Spawner,
		cfg:      cfg.withDefaults(),
		sessions: map[string]*session{},
		lastWarn: map[string]time.Time{},
	}
	e.clk = newClock(e.onFire)
	return e
}

func (e *Engine) config() Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg
}

// Apply updates runtime tunables. Worker and queue sizing of a started
// engine takes effect on the next Start.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfgMu.Lock()
	resize := cfg.Workers != e.cfg.Workers || cfg.QueueSize != e.cfg.QueueSize
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if resize && started && !e.log.IsZero() {
		e.log.Info("engine pool resize deferred until restart",
			logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
	}
}

func (e *Engine) Start() error {
	cfg := e.config()

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.queue = make(chan fireItem, cfg.QueueSize)
	stopCh, queue := e.stopCh, e.queue
	e.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		run := func(context.Context) {
			defer e.wg.Done()
			e.workerLoop(stopCh, queue)
		}
		if e.spawn != nil {
			e.spawn.Go0("engine.worker", run)
		} else {
			go run(context.Background())
		}
	}
	if !e.log.IsZero() {
		e.log.Info("engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
	}
	return nil
}

// Stop halts timers and workers. In-flight cycles run to completion; fires
// still waiting in the queue are released unexecuted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	stopCh, queue := e.stopCh, e.queue
	e.mu.Unlock()

	e.clk.StopAll()
	close(stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Release fires that never reached a worker.
	for {
		select {
		case it := <-queue:
			it.s.flight.Unlock()
		default:
			return err
		}
	}
}

func (e *Engine) workerLoop(stopCh chan struct{}, queue chan fireItem) {
	for {
		select {
		case <-stopCh:
			return
		case it := <-queue:
			e.runCycle(it.s, it.nominal)
		}
	}
}

// Arm validates and installs a schedule, replacing any previous state for
// the session. An enabled record gets a fresh full window; a disabled one
// just parks. Arm queues behind an in-flight cycle of the same session.
func (e *Engine) Arm(c schedule.Config) error {
	if err := schedule.Validate(c); err != nil {
		return err
	}
	trig, err := schedule.ParseTrigger(c)
	if err != nil {
		return err
	}

	s := e.session(c.SessionID)
	s.flight.Lock()
	defer s.flight.Unlock()

	e.install(s, c, trig)
	if !e.log.IsZero() {
		e.log.Debug("schedule armed", logx.String("session", c.SessionID),
			logx.Bool("enabled", c.Enabled), logx.Duration("interval", c.Interval))
	}
	return nil
}

// Update applies an edit inside the session's single-flight region. fn
// receives the current record (the live in-memory state when armed, the
// stored record otherwise) and returns the record to install; the result
// is validated, persisted, then armed or parked per Enabled. Because
// Update queues behind an in-flight cycle, engine-owned fields carried
// over from prev can never lose that cycle's counter movement.
func (e *Engine) Update(ctx context.Context, sessionID string, fn func(prev schedule.Config, found bool) (schedule.Config, error)) (schedule.Config, error) {
	s := e.session(sessionID)
	s.flight.Lock()
	defer s.flight.Unlock()

	s.mu.Lock()
	prev := s.cfg
	s.mu.Unlock()
	found := prev.SessionID != ""
	if !found {
		var err error
		prev, found, err = e.store.Get(ctx, sessionID)
		if err != nil {
			return e.updateFailed(sessionID, s, fmt.Errorf("loading schedule: %w", err))
		}
	}

	next, err := fn(prev, found)
	if err != nil {
		return e.updateFailed(sessionID, s, err)
	}
	next.SessionID = sessionID
	if err := schedule.Validate(next); err != nil {
		return e.updateFailed(sessionID, s, err)
	}
	trig, err := schedule.ParseTrigger(next)
	if err != nil {
		return e.updateFailed(sessionID, s, err)
	}
	if err := e.store.Put(ctx, next); err != nil {
		return e.updateFailed(sessionID, s, fmt.Errorf("persisting schedule: %w", err))
	}

	e.install(s, next, trig)
	if !e.log.IsZero() {
		e.log.Debug("schedule updated", logx.String("session", sessionID),
			logx.Bool("enabled", next.Enabled), logx.Int("error_count", next.ErrorCount))
	}
	return next, nil
}

// session returns the state for the id, creating an empty placeholder if
// none is armed yet.
func (e *Engine) session(sessionID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[sessionID]
	if s == nil {
		s = &session{id: sessionID}
		e.sessions[sessionID] = s
	}
	return s
}

// updateFailed drops the placeholder a failed Update may have created, so
// a rejected edit does not leave a phantom session behind.
func (e *Engine) updateFailed(sessionID string, s *session, err error) (schedule.Config, error) {
	e.mu.Lock()
	if e.sessions[sessionID] == s {
		s.mu.Lock()
		empty := s.cfg.SessionID == ""
		s.mu.Unlock()
		if empty {
			delete(e.sessions, sessionID)
		}
	}
	e.mu.Unlock()
	return schedule.Config{}, err
}

// install publishes the record to the session and syncs its timer. The
// caller holds s.flight. The clock is touched under e.mu so a racing
// Disarm cannot leave a live timer behind for a removed session.
func (e *Engine) install(s *session, c schedule.Config, trig schedule.Trigger) {
	s.mu.Lock()
	s.cfg = c
	s.trig = trig
	s.mu.Unlock()

	e.mu.Lock()
	if e.sessions[c.SessionID] == s {
		if c.Enabled {
			e.clk.Start(c.SessionID, trig)
		} else {
			e.clk.Stop(c.SessionID)
		}
	}
	e.mu.Unlock()
}

// Disarm stops the timer and forgets the session. It does not wait for an
// in-flight cycle; that cycle completes and persists its own result.
func (e *Engine) Disarm(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.clk.Stop(sessionID)
	e.mu.Unlock()
	if !e.log.IsZero() {
		e.log.Debug("schedule disarmed", logx.String("session", sessionID))
	}
}

// Restore re-arms every persisted enabled schedule with a fresh window.
// Missed fires from downtime are not reconstructed.
func (e *Engine) Restore(ctx context.Context) error {
	all, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	armed := 0
	for _, c := range all {
		if !c.Enabled {
			continue
		}
		if err := e.Arm(c); err != nil {
			if !e.log.IsZero() {
				e.log.Warn("skipping unrestorable schedule",
					logx.String("session", c.SessionID), logx.Err(err))
			}
			continue
		}
		armed++
	}
	if !e.log.IsZero() {
		e.log.Info("schedules restored", logx.Int("armed", armed), logx.Int("stored", len(all)))
	}
	return nil
}

// onFire is the clock callback. It claims the session's flight slot and
// hands the cycle to a worker; on any contention the fire is dropped, never
// queued for later.
func (e *Engine) onFire(sessionID string, nominal time.Time) {
	e.mu.Lock()
	s := e.sessions[sessionID]
	started := e.started
	queue := e.queue
	e.mu.Unlock()

	if s == nil {
		return
	}
	if !started {
		e.reportDrop(sessionID, ErrStopped)
		return
	}
	if !s.flight.TryLock() {
		e.drops.Add(1)
		e.publish(EventCycleSkipped, CycleEvent{SessionID: sessionID})
		e.reportDrop(sessionID, ErrOverlapSkip)
		return
	}
	select {
	case queue <- fireItem{s: s, nominal: nominal}:
	default:
		s.flight.Unlock()
		e.drops.Add(1)
		e.publish(EventCycleSkipped, CycleEvent{SessionID: sessionID})
		e.reportDrop(sessionID, ErrQueueFull)
	}
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Snapshot returns a point-in-time diagnostics view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	var depth int
	if e.queue != nil {
		depth = len(e.queue)
	}
	e.mu.Unlock()

	snap := Snapshot{
		Armed:        len(sessions),
		InFlight:     e.inFlight.Load(),
		QueueDepth:   depth,
		DroppedFires: e.drops.Load(),
	}
	for _, s := range sessions {
		s.mu.Lock()
		ss := SessionSnapshot{
			SessionID:  s.id,
			Enabled:    s.cfg.Enabled,
			ErrorCount: s.cfg.ErrorCount,
			MaxErrors:  s.cfg.MaxErrors,
		}
		s.mu.Unlock()
		if next, ok := e.clk.Next(s.id); ok {
			ss.NextFire = next
		}
		snap.Sessions = append(snap.Sessions, ss)
	}
	return snap
}
