// Package agent defines the boundary to the agent runtime. The engine only
// sees Invoker: it submits a prompt with a session, a cycle id and an
// authorization callback, and gets back a coarse outcome. What the agent
// does inside a cycle is opaque here.
package agent

import (
	"context"

	"recurd/internal/gate"
)

// Request is one scheduled invocation of the agent.
type Request struct {
	SessionID string
	// CycleID uniquely identifies this invocation (uuid), shared by the
	// cycle's log records and bus events.
	CycleID string
	Prompt  string
	Mode    gate.Mode
	// Authorize is consulted by the agent runtime for every action it
	// attempts. Never nil.
	Authorize func(gate.Action) gate.Decision
}

// RejectedAction records one action the gate turned down during a cycle.
type RejectedAction struct {
	Action gate.Action `json:"action"`
	Reason string      `json:"reason"`
}

// Result is the coarse outcome of a cycle.
//
// A cycle whose only incidents are rejected actions is a success: the
// schedule itself worked, the policy simply constrained the agent.
type Result struct {
	OK       bool             `json:"ok"`
	Detail   string           `json:"detail,omitempty"`
	Rejected []RejectedAction `json:"rejected,omitempty"`
}

// Invoker executes one agent cycle. Implementations must honor ctx
// cancellation; the engine applies its cycle timeout through it.
type Invoker interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Invoker.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Run(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
