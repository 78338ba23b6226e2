package engine

import "errors"

var (
	// ErrStopped is returned when work is submitted to a stopped engine.
	ErrStopped = errors.New("engine stopped")

	// ErrQueueFull means the cycle queue rejected a fire. The fire is
	// dropped, not queued; cadence stays anchored to nominal times.
	ErrQueueFull = errors.New("cycle queue full")

	// ErrOverlapSkip means a fire arrived while the session's previous
	// cycle was still running. Expected during normal operation.
	ErrOverlapSkip = errors.New("cycle skipped: previous cycle still running")
)
