package engine

import (
	"sync"
	"time"

	"recurd/internal/schedule"
)

type fireFunc func(sessionID string, nominal time.Time)

// clock owns one timer per session and the nominal-time chain behind it.
//
// Each entry carries a version from a global sequence; a fired time.AfterFunc
// callback whose version no longer matches the live entry is stale (the
// session was stopped or re-armed meanwhile) and is ignored.
type clock struct {
	mu     sync.Mutex
	fire   fireFunc
	now    func() time.Time // test seam
	seq    uint64
	timers map[string]*clockEntry
}

type clockEntry struct {
	ver     uint64
	trig    schedule.Trigger
	nominal time.Time // next scheduled fire
	timer   *time.Timer
}

func newClock(fire fireFunc) *clock {
	return &clock{fire: fire, now: time.Now, timers: map[string]*clockEntry{}}
}

// Start (re)arms a session with a fresh window: the first fire lands one
// full period after now, never immediately. Starting an armed session
// replaces its timer (upsert).
func (c *clock) Start(sessionID string, trig schedule.Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.timers[sessionID]; old != nil && old.timer != nil {
		old.timer.Stop()
	}
	c.seq++
	e := &clockEntry{ver: c.seq, trig: trig, nominal: trig.Next(c.now())}
	c.timers[sessionID] = e
	c.armLocked(sessionID, e)
}

func (c *clock) armLocked(sessionID string, e *clockEntry) {
	d := e.nominal.Sub(c.now())
	if d < 0 {
		d = 0
	}
	ver := e.ver
	e.timer = time.AfterFunc(d, func() { c.onTimer(sessionID, ver) })
}

func (c *clock) onTimer(sessionID string, ver uint64) {
	c.mu.Lock()
	e := c.timers[sessionID]
	if e == nil || e.ver != ver {
		c.mu.Unlock()
		return
	}
	nominal := e.nominal
	now := c.now()
	// Advance the nominal chain. A stall longer than a period yields at
	// most this one late fire; missed nominal times are skipped, never
	// burst-replayed.
	next := e.trig.Next(nominal)
	if !next.After(now) {
		next = e.trig.Next(now)
	}
	e.nominal = next
	c.armLocked(sessionID, e)
	fire := c.fire
	c.mu.Unlock()

	if fire != nil {
		fire(sessionID, nominal)
	}
}

func (c *clock) Stop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.timers[sessionID]
	if e == nil {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.timers, sessionID)
}

func (c *clock) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.timers {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.timers, id)
	}
}

// Next reports the next scheduled fire for a session, if armed.
func (c *clock) Next(sessionID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.timers[sessionID]
	if e == nil {
		return time.Time{}, false
	}
	return e.nominal, true
}
