package agent

import (
	"context"
	"runtime"
	"testing"
	"time"

	"recurd/internal/gate"
	logx "recurd/pkg/logx"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses /bin/sh")
	}
}

func req() Request {
	return Request{
		SessionID: "s1",
		CycleID:   "c1",
		Prompt:    "hello",
		Mode:      gate.ModeReadOnly,
		Authorize: gate.Authorizer(gate.ModeReadOnly, nil),
	}
}

func TestCommandInvokerSuccess(t *testing.T) {
	requireShell(t)
	inv, err := NewCommandInvoker(CommandConfig{Command: "/bin/sh", Args: []string{"-c", "cat"}}, logx.Nop())
	if err != nil {
		t.Fatalf("NewCommandInvoker() = %v", err)
	}
	res, err := inv.Run(context.Background(), req())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !res.OK {
		t.Fatalf("result not OK: %+v", res)
	}
	if res.Detail != "hello" {
		t.Fatalf("detail = %q, want prompt echoed from stdin", res.Detail)
	}
}

func TestCommandInvokerNonzeroExit(t *testing.T) {
	requireShell(t)
	inv, _ := NewCommandInvoker(CommandConfig{Command: "/bin/sh", Args: []string{"-c", "echo failed; exit 3"}}, logx.Nop())
	res, err := inv.Run(context.Background(), req())
	if err != nil {
		t.Fatalf("nonzero exit should not be an invoker error, got %v", err)
	}
	if res.OK {
		t.Fatal("result OK despite nonzero exit")
	}
	if res.Detail != "failed" {
		t.Fatalf("detail = %q", res.Detail)
	}
}

func TestCommandInvokerTimeout(t *testing.T) {
	requireShell(t)
	inv, _ := NewCommandInvoker(CommandConfig{Command: "/bin/sh", Args: []string{"-c", "sleep 10"}}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := inv.Run(ctx, req()); err == nil {
		t.Fatal("expected an error on timeout")
	}
}

func TestCommandInvokerEnv(t *testing.T) {
	requireShell(t)
	inv, _ := NewCommandInvoker(CommandConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", `printf '%s %s %s' "$RECURD_SESSION_ID" "$RECURD_CYCLE_ID" "$RECURD_MODE"`},
	}, logx.Nop())
	res, err := inv.Run(context.Background(), req())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Detail != "s1 c1 read-only" {
		t.Fatalf("env detail = %q", res.Detail)
	}
}

func TestCommandInvokerRequiresCommand(t *testing.T) {
	if _, err := NewCommandInvoker(CommandConfig{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty command")
	}
}
