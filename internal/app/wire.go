package app

import (
	"errors"
	"strings"

	"recurd/internal/config"
	"recurd/internal/engine"
	"recurd/internal/store"
	logx "recurd/pkg/logx"
)

// validate is the config gate shared by boot and hot reload: every duration
// string must parse and the agent command must be set.
func validate(c *config.Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Agent.Command) == "" {
		return errors.New("agent.command is required")
	}
	_, err := c.Durations()
	return err
}

func loggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Bus: logx.BusConfig{
			Enabled:    c.Bus.Enabled,
			MinLevel:   c.Bus.MinLevel,
			RatePerSec: c.Bus.RatePerSec,
		},
	}
}

func storeConfig(c *config.Config) (store.Config, error) {
	d, err := c.Durations()
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      c.Store.Driver,
		Path:        c.Store.Path,
		BusyTimeout: d.StoreBusyTimeout,
	}, nil
}

func engineConfig(c *config.Config) (engine.Config, error) {
	d, err := c.Durations()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        c.Engine.Workers,
		QueueSize:      c.Engine.QueueSize,
		CycleTimeout:   d.EngineCycleTimeout,
		PersistRetries: c.Engine.PersistRetries,
		PersistBackoff: d.EnginePersistBackoff,
	}, nil
}
