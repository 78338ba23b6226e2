package engine

import "time"

// Bus event types published by the engine.
const (
	EventCycleStarted     = "cycle.started"
	EventCycleCompleted   = "cycle.completed"
	EventCycleFailed      = "cycle.failed"
	EventCycleSkipped     = "cycle.skipped"
	EventScheduleDisabled = "schedule.disabled"
)

// CycleEvent is the payload of cycle.* events.
type CycleEvent struct {
	SessionID string        `json:"session_id"`
	CycleID   string        `json:"cycle_id,omitempty"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Rejected  int           `json:"rejected,omitempty"`
	Took      time.Duration `json:"took,omitempty"`
}

// DisabledEvent is published exactly once when a schedule trips its
// consecutive-failure threshold. This is the hook for surfacing the
// disablement to the user.
type DisabledEvent struct {
	SessionID  string `json:"session_id"`
	ErrorCount int    `json:"error_count"`
	MaxErrors  int    `json:"max_errors"`
	LastError  string `json:"last_error,omitempty"`
}
