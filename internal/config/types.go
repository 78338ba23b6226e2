package config

// Config is the daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Store   StoreConfig   `json:"store"`
	Engine  EngineConfig  `json:"engine,omitempty"`
	Agent   AgentConfig   `json:"agent"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Bus     LoggingBus  `json:"bus"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingBus controls the event-bus log sink (warn+ records fanned out to
// in-process observers).
type LoggingBus struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StoreConfig controls the persistence layer.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./recurd.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls the cycle pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 16
//   - cycle_timeout: "10m"
//   - persist_retries: 4
//   - persist_backoff: "100ms"
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// CycleTimeout caps one agent invocation.
	CycleTimeout string `json:"cycle_timeout,omitempty"`

	PersistRetries int    `json:"persist_retries,omitempty"`
	PersistBackoff string `json:"persist_backoff,omitempty"`
}

// AgentConfig configures the subprocess that hosts the agent runtime.
type AgentConfig struct {
	Command        string   `json:"command"`
	Args           []string `json:"args,omitempty"`
	MaxOutputBytes int      `json:"max_output_bytes,omitempty"`
}
