package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	logx "recurd/pkg/logx"
)

// CommandConfig configures the subprocess-backed invoker.
type CommandConfig struct {
	// Command is the executable that hosts the agent runtime.
	Command string
	// Args are passed before the generated ones.
	Args []string
	// MaxOutputBytes caps captured stdout+stderr (default 64 KiB).
	MaxOutputBytes int
}

const defaultMaxOutput = 64 << 10

// CommandInvoker runs each cycle as a subprocess: the prompt goes to stdin,
// the session/cycle/mode travel in the environment, and the exit status maps
// to the cycle outcome. Rejected-action reporting is not available over this
// boundary; the process sees its mode and is expected to self-constrain.
type CommandInvoker struct {
	cfg CommandConfig
	log logx.Logger
}

func NewCommandInvoker(cfg CommandConfig, log logx.Logger) (*CommandInvoker, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("agent command required")
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}
	return &CommandInvoker{cfg: cfg, log: log}, nil
}

func (c *CommandInvoker) Run(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = append(cmd.Environ(),
		"RECURD_SESSION_ID="+req.SessionID,
		"RECURD_CYCLE_ID="+req.CycleID,
		"RECURD_MODE="+string(req.Mode),
	)

	var out cappedBuffer
	out.limit = c.cfg.MaxOutputBytes
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	detail := strings.TrimSpace(out.String())

	switch {
	case err == nil:
		return Result{OK: true, Detail: detail}, nil
	case ctx.Err() != nil:
		// Timeout/cancel: surface as an invoker error so the engine counts
		// the cycle as failed with the right cause.
		return Result{}, fmt.Errorf("agent command: %w", ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The runtime ran and reported failure; not an invoker fault.
			if !c.log.IsZero() {
				c.log.Debug("agent command exited nonzero",
					logx.String("session", req.SessionID),
					logx.Int("code", exitErr.ExitCode()))
			}
			return Result{OK: false, Detail: detail}, nil
		}
		return Result{}, fmt.Errorf("agent command: %w", err)
	}
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
