// Package schedule defines the per-session recurring schedule record and
// its validation rules. Records are owned by the controller/engine pair and
// persisted whole; nothing here touches timers or storage.
package schedule

import (
	"encoding/json"
	"time"
)

// Policy selects the permission stance applied to every cycle of a schedule.
type Policy string

const (
	// PolicyDenyAll runs cycles read-only: any mutating action is rejected.
	PolicyDenyAll Policy = "deny-all"
	// PolicyAllowSafe permits non-destructive mutations only.
	PolicyAllowSafe Policy = "allow-safe"
	// PolicyAllowAll permits everything.
	PolicyAllowAll Policy = "allow-all"
)

func (p Policy) Valid() bool {
	switch p {
	case PolicyDenyAll, PolicyAllowSafe, PolicyAllowAll:
		return true
	}
	return false
}

// IntervalPresets are the values surfaced to editors. Any positive interval
// is accepted; these are suggestions, not a whitelist.
var IntervalPresets = []time.Duration{
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	4 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// MaxErrorsPresets are the suggested consecutive-failure thresholds.
var MaxErrorsPresets = []int{3, 5, 10, 20}

// DefaultMaxErrors is applied when an editor leaves the threshold unset.
const DefaultMaxErrors = 5

// Config is the full schedule record for one session.
//
// ErrorCount and LastExecutedAt are engine-owned: the engine is the only
// writer, and editors must carry the stored values over when resubmitting a
// record (the controller enforces this).
type Config struct {
	SessionID string
	Enabled   bool

	// Interval is the fixed cadence. Exactly one of Interval / CronExpr
	// must be set.
	Interval time.Duration

	// CronExpr is an alternative trigger: a standard 5-field cron
	// expression ("*/15 * * * *", "@hourly").
	CronExpr string

	// Prompt is resubmitted verbatim on every cycle.
	Prompt string

	Policy Policy

	// MaxErrors is the consecutive-failure threshold that auto-disables
	// the schedule.
	MaxErrors int

	// ErrorCount is the current consecutive-failure streak. Reset to zero
	// by any successful cycle; never decremented otherwise.
	ErrorCount int

	// LastExecutedAt is the start time of the most recent completed cycle,
	// success or failure. Nil until the first cycle completes.
	LastExecutedAt *time.Time
}

// jsonConfig is the wire/persistence shape. The interval travels as integer
// milliseconds so records stay portable across runtimes that have no
// duration type.
type jsonConfig struct {
	SessionID      string     `json:"session_id"`
	Enabled        bool       `json:"enabled"`
	IntervalMs     int64      `json:"interval_ms,omitempty"`
	CronExpr       string     `json:"cron_expr,omitempty"`
	Prompt         string     `json:"prompt"`
	Policy         Policy     `json:"permission_policy"`
	MaxErrors      int        `json:"max_errors"`
	ErrorCount     int        `json:"error_count"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonConfig{
		SessionID:      c.SessionID,
		Enabled:        c.Enabled,
		IntervalMs:     c.Interval.Milliseconds(),
		CronExpr:       c.CronExpr,
		Prompt:         c.Prompt,
		Policy:         c.Policy,
		MaxErrors:      c.MaxErrors,
		ErrorCount:     c.ErrorCount,
		LastExecutedAt: c.LastExecutedAt,
	})
}

func (c *Config) UnmarshalJSON(b []byte) error {
	var j jsonConfig
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*c = Config{
		SessionID:      j.SessionID,
		Enabled:        j.Enabled,
		Interval:       time.Duration(j.IntervalMs) * time.Millisecond,
		CronExpr:       j.CronExpr,
		Prompt:         j.Prompt,
		Policy:         j.Policy,
		MaxErrors:      j.MaxErrors,
		ErrorCount:     j.ErrorCount,
		LastExecutedAt: j.LastExecutedAt,
	}
	return nil
}
