package engine

import (
	"context"
	"time"
)

// Config tunes the cycle pipeline. Zero values get defaults.
type Config struct {
	// Workers is the number of goroutines executing cycles.
	Workers int
	// QueueSize bounds fires waiting for a worker.
	QueueSize int
	// CycleTimeout caps one agent invocation.
	CycleTimeout time.Duration
	// PersistRetries is the number of retries after a failed record write
	// (the first attempt is not a retry).
	PersistRetries int
	// PersistBackoff is the initial delay between persist attempts; it
	// doubles per retry.
	PersistBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 10 * time.Minute
	}
	if c.PersistRetries <= 0 {
		c.PersistRetries = 4
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 100 * time.Millisecond
	}
	return c
}

// Spawner allows the caller (the app supervisor) to own goroutines created
// by the engine. When nil, the engine falls back to plain `go`.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

// Snapshot is a point-in-time diagnostics view.
type Snapshot struct {
	Armed        int               `json:"armed"`
	InFlight     int64             `json:"in_flight"`
	QueueDepth   int               `json:"queue_depth"`
	DroppedFires uint64            `json:"dropped_fires"`
	Sessions     []SessionSnapshot `json:"sessions"`
}

// SessionSnapshot describes one armed session.
type SessionSnapshot struct {
	SessionID  string    `json:"session_id"`
	Enabled    bool      `json:"enabled"`
	ErrorCount int       `json:"error_count"`
	MaxErrors  int       `json:"max_errors"`
	NextFire   time.Time `json:"next_fire,omitzero"`
}
