// Package gate maps a schedule's permission policy to the authorization
// mode an agent cycle runs under, and decides individual actions at the
// point of attempt. Decisions are reported back in the cycle result; a
// rejection is never an error.
package gate

import (
	"strings"

	"recurd/internal/schedule"
)

// Mode is the effective authorization stance for one cycle.
type Mode string

const (
	ModeReadOnly     Mode = "read-only"
	ModeSafeWrites   Mode = "safe-writes"
	ModeUnrestricted Mode = "unrestricted"
)

// ModeFor translates a stored policy into a runtime mode. Unknown policies
// collapse to read-only; validation upstream should make that unreachable.
func ModeFor(p schedule.Policy) Mode {
	switch p {
	case schedule.PolicyAllowAll:
		return ModeUnrestricted
	case schedule.PolicyAllowSafe:
		return ModeSafeWrites
	default:
		return ModeReadOnly
	}
}

// Action is one thing the agent wants to do during a cycle.
type Action struct {
	// Name identifies the operation ("file.write", "shell.exec", ...).
	Name string
	// Mutating is true when the action changes state anywhere.
	Mutating bool
	// Detail is free-form context for logs and rejection reasons.
	Detail string
}

// Decision is the gate's verdict on a single action.
type Decision struct {
	Allow  bool
	Reason string // set when Allow is false
}

// Classifier reports whether a mutating action is too risky for
// safe-writes mode.
type Classifier func(Action) bool

// Authorizer returns the per-action decision function for a mode.
// The classifier is consulted only in safe-writes mode; nil falls back to
// DefaultRisky.
func Authorizer(mode Mode, risky Classifier) func(Action) Decision {
	if risky == nil {
		risky = DefaultRisky
	}
	switch mode {
	case ModeUnrestricted:
		return func(Action) Decision { return Decision{Allow: true} }
	case ModeSafeWrites:
		return func(a Action) Decision {
			if !a.Mutating {
				return Decision{Allow: true}
			}
			if risky(a) {
				return Decision{Allow: false, Reason: "mutating action " + a.Name + " classified risky under safe-writes"}
			}
			return Decision{Allow: true}
		}
	default:
		return func(a Action) Decision {
			if a.Mutating {
				return Decision{Allow: false, Reason: "mutating action " + a.Name + " rejected in read-only mode"}
			}
			return Decision{Allow: true}
		}
	}
}

// riskyVerbs are operation prefixes that delete or irreversibly change
// state. Matched against the segment after the last dot.
var riskyVerbs = []string{
	"delete", "remove", "rm", "drop", "truncate", "destroy",
	"format", "wipe", "kill", "force",
}

// DefaultRisky is the built-in classifier for safe-writes mode.
func DefaultRisky(a Action) bool {
	name := strings.ToLower(strings.TrimSpace(a.Name))
	if name == "" {
		// Unnamed mutations cannot be reasoned about.
		return true
	}
	verb := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		verb = name[i+1:]
	}
	for _, rv := range riskyVerbs {
		if strings.HasPrefix(verb, rv) {
			return true
		}
	}
	return false
}
