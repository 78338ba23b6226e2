package store

import (
	"context"
	"errors"
	"time"

	"recurd/internal/schedule"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Config configures persistence.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free file backend (snapshot + jsonl journal)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists schedule records keyed by session id.
//
// Put always writes the full record; there are no partial updates. No
// ordering is guaranteed between records of different sessions.
type Store interface {
	Put(ctx context.Context, c schedule.Config) error
	Get(ctx context.Context, sessionID string) (schedule.Config, bool, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]schedule.Config, error)
	Close() error
}
