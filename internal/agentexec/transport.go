// Package agentexec drives the agent CLI as a one-shot subprocess. It is
// the degraded fallback when the app server is unreachable: the prompt
// goes in on stdin, events come back as JSON lines on stdout.
package agentexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/steward/core"
	"pkt.systems/steward/schema"
)

// Config controls how the agent CLI is invoked.
type Config struct {
	BinaryPath string
	ExtraArgs  []string
	Env        []string
}

// Transport implements core.Transport over one-shot subprocess runs.
type Transport struct {
	cfg Config
	log pslog.Logger
}

// New constructs the exec transport.
func New(cfg Config, logger pslog.Logger) (*Transport, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "codex"
	}
	return &Transport{cfg: cfg, log: logger}, nil
}

// Kind reports the exec transport kind.
func (t *Transport) Kind() schema.TransportKind {
	return schema.TransportExec
}

// Readiness reports whether the CLI binary is on PATH. The exec
// transport has no app server and no login state of its own.
func (t *Transport) Readiness(ctx context.Context) (schema.ReadinessReport, error) {
	if _, err := exec.LookPath(t.cfg.BinaryPath); err != nil {
		return schema.ReadinessReport{Detail: err.Error()}, nil
	}
	return schema.ReadinessReport{CLIAvailable: true}, nil
}

// Run starts one subprocess turn.
func (t *Transport) Run(ctx context.Context, req core.TurnRunRequest) (core.TurnHandle, error) {
	if req.Prompt == "" {
		return nil, schema.ErrEmptyPrompt
	}
	args := buildArgs(t.cfg, req)
	if t.log != nil {
		t.log.Info("agent exec start", "workdir", req.WorkingDir, "args", args, "model", req.Model, "prompt_len", len(req.Prompt))
	}

	cmd := exec.CommandContext(ctx, t.cfg.BinaryPath, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = append(os.Environ(), t.cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.NewTransportError(core.TransportErrorExec, "stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, core.NewTransportError(core.TransportErrorExec, "stderr", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, core.NewTransportError(core.TransportErrorExec, "stdin", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, core.NewTransportError(core.TransportErrorExec, "start", err)
	}
	if t.log != nil && cmd.Process != nil {
		t.log.Info("agent exec started", "pid", cmd.Process.Pid)
	}

	go func() {
		if req.SystemPrompt != "" {
			_, _ = io.WriteString(stdin, req.SystemPrompt+"\n\n")
		}
		_, _ = io.WriteString(stdin, req.Prompt)
		_ = stdin.Close()
	}()

	return &turnHandle{
		cmd:     cmd,
		stream:  newCombinedStream(stdout, stderr, t.log),
		log:     t.log,
		started: time.Now(),
	}, nil
}

func buildArgs(cfg Config, req core.TurnRunRequest) []string {
	args := []string{"exec", "--json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, cfg.ExtraArgs...)
	args = append(args, "-")
	return args
}

type turnHandle struct {
	cmd     *exec.Cmd
	stream  *combinedStream
	log     pslog.Logger
	started time.Time
}

func (h *turnHandle) Events() core.EventStream {
	return h.stream
}

// Approve is a no-op: a one-shot subprocess cannot pause on a decision,
// so applied proposals need no answer on the wire.
func (h *turnHandle) Approve(ctx context.Context, callID string, approved bool) error {
	_ = ctx
	_ = callID
	_ = approved
	return nil
}

func (h *turnHandle) Wait(ctx context.Context) (core.TurnResult, error) {
	_ = ctx
	if h.cmd == nil {
		return core.TurnResult{}, fmt.Errorf("process not started")
	}
	err := h.cmd.Wait()
	exitCode := 0
	signal := ""
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signal = status.Signal().String()
			}
		} else {
			return core.TurnResult{}, err
		}
	}
	if h.log != nil {
		fields := []any{"exit_code", exitCode, "duration_ms", time.Since(h.started).Milliseconds()}
		if signal != "" {
			fields = append(fields, "signal", signal)
		}
		h.log.Info("agent exec finished", fields...)
	}
	return core.TurnResult{ExitCode: exitCode}, nil
}

func (h *turnHandle) Close() error {
	if h.stream != nil {
		_ = h.stream.Close()
	}
	return nil
}
