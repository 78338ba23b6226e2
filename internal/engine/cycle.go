package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"recurd/internal/agent"
	"recurd/internal/gate"
	"recurd/internal/schedule"
	logx "recurd/pkg/logx"
)

// runCycle executes one agent invocation for a session. The caller holds
// the session's flight lock; it is released here when the cycle is done.
func (e *Engine) runCycle(s *session, nominal time.Time) {
	defer s.flight.Unlock()

	s.mu.Lock()
	c := s.cfg
	s.mu.Unlock()
	// Disabled or replaced while the fire sat in the queue.
	if !c.Enabled {
		return
	}

	cfg := e.config()
	start := time.Now()
	cycleID := uuid.NewString()
	log := e.log.With(logx.String("session", s.id), logx.String("cycle", cycleID))

	startAt := start
	s.mu.Lock()
	s.cfg.LastExecutedAt = &startAt
	s.mu.Unlock()

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	e.publish(EventCycleStarted, CycleEvent{SessionID: s.id, CycleID: cycleID})
	if !log.IsZero() {
		log.Debug("cycle started", logx.Time("nominal", nominal))
	}

	mode := gate.ModeFor(c.Policy)
	req := agent.Request{
		SessionID: s.id,
		CycleID:   cycleID,
		Prompt:    c.Prompt,
		Mode:      mode,
		Authorize: gate.Authorizer(mode, e.risky),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CycleTimeout)
	res, err := e.inv.Run(ctx, req)
	cancel()

	took := time.Since(start)
	failed := err != nil || !res.OK
	var cause string
	switch {
	case err != nil:
		cause = err.Error()
	case !res.OK:
		cause = res.Detail
		if cause == "" {
			cause = "agent reported failure"
		}
	}

	var tripped bool
	s.mu.Lock()
	if failed {
		s.cfg.ErrorCount++
		if s.cfg.Enabled && s.cfg.ErrorCount >= s.cfg.MaxErrors {
			s.cfg.Enabled = false
			tripped = true
		}
	} else {
		s.cfg.ErrorCount = 0
	}
	persist := s.cfg
	s.mu.Unlock()

	if tripped {
		e.clk.Stop(s.id)
	}

	if failed {
		e.publish(EventCycleFailed, CycleEvent{
			SessionID: s.id, CycleID: cycleID, Error: cause, Took: took,
		})
		if !log.IsZero() {
			log.Warn("cycle failed",
				logx.Int("error_count", persist.ErrorCount),
				logx.Int("max_errors", persist.MaxErrors),
				logx.Duration("took", took),
				logx.String("err", cause))
		}
	} else {
		e.publish(EventCycleCompleted, CycleEvent{
			SessionID: s.id, CycleID: cycleID, OK: true,
			Rejected: len(res.Rejected), Took: took,
		})
		if !log.IsZero() {
			log.Debug("cycle completed",
				logx.Duration("took", took), logx.Int("rejected", len(res.Rejected)))
		}
	}

	if tripped {
		e.publish(EventScheduleDisabled, DisabledEvent{
			SessionID:  s.id,
			ErrorCount: persist.ErrorCount,
			MaxErrors:  persist.MaxErrors,
			LastError:  cause,
		})
		if !log.IsZero() {
			log.Warn("schedule disabled after consecutive failures",
				logx.Int("error_count", persist.ErrorCount),
				logx.Int("max_errors", persist.MaxErrors))
		}
	}

	if perr := e.persistWithRetry(persist); perr != nil {
		// State survives in memory; the next successful persist carries it.
		if !log.IsZero() {
			log.Error("persisting schedule record failed", logx.Err(perr))
		}
	}
}

// persistWithRetry writes the full record with bounded exponential backoff.
func (e *Engine) persistWithRetry(c schedule.Config) error {
	cfg := e.config()
	delay := cfg.PersistBackoff
	var err error
	for attempt := 0; ; attempt++ {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = e.store.Put(wctx, c)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= cfg.PersistRetries {
			return err
		}
		if !e.log.IsZero() {
			e.log.Debug("schedule persist retry",
				logx.String("session", c.SessionID),
				logx.Int("attempt", attempt+1),
				logx.Duration("backoff", delay),
				logx.Err(err))
		}
		select {
		case <-time.After(delay):
		case <-e.stopChan():
			return err
		}
		delay *= 2
	}
}

func (e *Engine) stopChan() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != nil {
		return e.stopCh
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

const dropWarnThrottle = 5 * time.Second

// reportDrop logs dropped fires. Overlap skips happen during normal
// operation and stay at debug; queue-full and stopped drops are warned,
// throttled per session.
func (e *Engine) reportDrop(sessionID string, cause error) {
	if e.log.IsZero() {
		return
	}
	if errors.Is(cause, ErrOverlapSkip) {
		e.log.Debug("cycle fire skipped", logx.String("session", sessionID), logx.Any("err", cause))
		return
	}

	now := time.Now()
	e.warnMu.Lock()
	last := e.lastWarn[sessionID]
	if !last.IsZero() && now.Sub(last) < dropWarnThrottle {
		e.warnMu.Unlock()
		return
	}
	e.lastWarn[sessionID] = now
	e.warnMu.Unlock()

	e.log.Warn("cycle fire dropped", logx.String("session", sessionID), logx.Any("err", cause))
}
