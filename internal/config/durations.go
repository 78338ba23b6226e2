package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations is the parsed form of every duration string in the config.
// A field left empty in the file stays zero here; the owning component
// applies its own default.
type Durations struct {
	StoreBusyTimeout     time.Duration
	EngineCycleTimeout   time.Duration
	EnginePersistBackoff time.Duration
}

// Durations parses all duration fields in one pass, so the boot path and
// the reload validator agree on what is acceptable. Negative values are
// rejected; a zero cycle timeout would disable the cap, which is never
// what a config edit means.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name string
		raw  string
		out  *time.Duration
	}{
		{"store.busy_timeout", c.Store.BusyTimeout, &d.StoreBusyTimeout},
		{"engine.cycle_timeout", c.Engine.CycleTimeout, &d.EngineCycleTimeout},
		{"engine.persist_backoff", c.Engine.PersistBackoff, &d.EnginePersistBackoff},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return Durations{}, fmt.Errorf("%s: invalid duration %q: %w", f.name, f.raw, err)
		}
		if v <= 0 {
			return Durations{}, fmt.Errorf("%s: duration must be > 0, got %q", f.name, f.raw)
		}
		*f.out = v
	}
	return d, nil
}
