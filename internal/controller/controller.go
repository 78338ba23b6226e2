// Package controller is the in-process boundary for managing schedules.
// It validates input, persists records, and keeps the engine's armed state
// in sync with the store.
package controller

import (
	"context"
	"errors"
	"fmt"

	"recurd/internal/schedule"
	"recurd/internal/store"
	logx "recurd/pkg/logx"
)

// ErrNotFound is returned when a session has no schedule record.
var ErrNotFound = errors.New("schedule not found")

// Engine is the slice of the schedule engine the controller drives.
// Update runs the controller's read-merge-persist-install sequence inside
// the engine's single-flight region, so edits queue behind an in-flight
// cycle instead of racing its counter update.
type Engine interface {
	Update(ctx context.Context, sessionID string, fn func(prev schedule.Config, found bool) (schedule.Config, error)) (schedule.Config, error)
	Disarm(sessionID string)
}

type Controller struct {
	store store.Store
	eng   Engine
	log   logx.Logger
}

func New(st store.Store, eng Engine, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{store: st, eng: eng, log: log}
}

// SetSchedule validates and installs a record for the session. Engine-owned
// fields (ErrorCount, LastExecutedAt) are carried over from the current
// record, so an editor resubmitting a full form cannot reset failure
// accounting. The whole edit runs in the engine's single-flight region:
// submitted during an in-flight cycle, it waits for the cycle to finish and
// carries over the counter that cycle produced. Validation failures are
// synchronous and persist nothing.
func (c *Controller) SetSchedule(ctx context.Context, sessionID string, cfg schedule.Config) error {
	cfg.SessionID = sessionID
	if cfg.MaxErrors == 0 {
		cfg.MaxErrors = schedule.DefaultMaxErrors
	}

	got, err := c.eng.Update(ctx, sessionID, func(prev schedule.Config, found bool) (schedule.Config, error) {
		if found {
			cfg.ErrorCount = prev.ErrorCount
			cfg.LastExecutedAt = prev.LastExecutedAt
		} else {
			cfg.ErrorCount = 0
			cfg.LastExecutedAt = nil
		}
		return cfg, nil
	})
	if err != nil {
		return err
	}
	c.log.Info("schedule set", logx.String("session", sessionID),
		logx.Bool("enabled", got.Enabled), logx.Duration("interval", got.Interval))
	return nil
}

func (c *Controller) GetSchedule(ctx context.Context, sessionID string) (schedule.Config, bool, error) {
	return c.store.Get(ctx, sessionID)
}

// RemoveSchedule disarms and deletes. It does not wait for an in-flight
// cycle; if one is running, its completion may rewrite the record once more
// before the delete is observed everywhere. The next write wins.
func (c *Controller) RemoveSchedule(ctx context.Context, sessionID string) error {
	c.eng.Disarm(sessionID)
	if err := c.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	c.log.Info("schedule removed", logx.String("session", sessionID))
	return nil
}

// Pause disables the schedule, keeping the record (and its error streak).
func (c *Controller) Pause(ctx context.Context, sessionID string) error {
	return c.setEnabled(ctx, sessionID, false, false)
}

// ResumeOptions tunes Resume behavior.
type ResumeOptions struct {
	// ResetErrors clears the consecutive-failure streak on resume.
	ResetErrors bool
}

// Resume re-enables the schedule with a fresh window. The error streak is
// preserved; use ResumeOpt to clear it.
func (c *Controller) Resume(ctx context.Context, sessionID string) error {
	return c.setEnabled(ctx, sessionID, true, false)
}

func (c *Controller) ResumeOpt(ctx context.Context, sessionID string, opts ResumeOptions) error {
	return c.setEnabled(ctx, sessionID, true, opts.ResetErrors)
}

func (c *Controller) setEnabled(ctx context.Context, sessionID string, enabled, resetErrors bool) error {
	_, err := c.eng.Update(ctx, sessionID, func(prev schedule.Config, found bool) (schedule.Config, error) {
		if !found {
			return schedule.Config{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		prev.Enabled = enabled
		if resetErrors {
			prev.ErrorCount = 0
		}
		return prev, nil
	})
	if err != nil {
		return err
	}
	c.log.Info("schedule toggled", logx.String("session", sessionID), logx.Bool("enabled", enabled))
	return nil
}

// List returns all stored records, enabled or not.
func (c *Controller) List(ctx context.Context) ([]schedule.Config, error) {
	return c.store.List(ctx)
}
