package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind describes the normalized kind of a schedule trigger.
//
// We intentionally keep this small: either a fixed interval or a cron
// expression (robfig/cron).
type TriggerKind int

const (
	TriggerInterval TriggerKind = iota
	TriggerCron
)

// Trigger is the parsed, ready-to-evaluate form of a record's cadence.
type Trigger struct {
	Kind  TriggerKind
	Every time.Duration // interval triggers
	cron  cron.Schedule // cron triggers
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseTrigger extracts and validates the trigger from a record. Exactly one
// of Interval / CronExpr must be set.
func ParseTrigger(c Config) (Trigger, error) {
	expr := strings.TrimSpace(c.CronExpr)
	switch {
	case c.Interval > 0 && expr != "":
		return Trigger{}, invalidf("interval and cron expression are mutually exclusive")
	case c.Interval > 0:
		return Trigger{Kind: TriggerInterval, Every: c.Interval}, nil
	case expr != "":
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return Trigger{}, invalidf("bad cron expression %q: %v", expr, err)
		}
		return Trigger{Kind: TriggerCron, cron: sched}, nil
	case c.Interval < 0:
		return Trigger{}, invalidf("interval must be > 0, got %s", c.Interval)
	default:
		return Trigger{}, invalidf("interval or cron expression required")
	}
}

// Next returns the next fire time strictly after the given nominal time.
func (t Trigger) Next(after time.Time) time.Time {
	switch t.Kind {
	case TriggerCron:
		return t.cron.Next(after)
	default:
		return after.Add(t.Every)
	}
}
