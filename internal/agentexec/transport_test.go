package agentexec

import (
	"context"
	"strings"
	"testing"

	"pkt.systems/steward/core"
)

func TestBuildArgs(t *testing.T) {
	args := buildArgs(Config{ExtraArgs: []string{"--sandbox", "workspace-write"}}, core.TurnRunRequest{
		Prompt: "hi",
		Model:  "gpt-5",
	})
	joined := strings.Join(args, " ")
	if joined != "exec --json --model gpt-5 --sandbox workspace-write -" {
		t.Fatalf("unexpected args %q", joined)
	}
}

func TestReadinessMissingBinary(t *testing.T) {
	transport, err := New(Config{BinaryPath: "/no/such/agent-binary"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := transport.Readiness(context.Background())
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if report.CLIAvailable {
		t.Fatalf("missing binary must not report available")
	}
	if report.Detail == "" {
		t.Fatalf("expected detail for missing binary")
	}
}

func TestReadinessFindsBinary(t *testing.T) {
	transport, err := New(Config{BinaryPath: "/bin/sh"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := transport.Readiness(context.Background())
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if !report.CLIAvailable || report.AppServer || report.LoggedIn {
		t.Fatalf("unexpected report %+v", report)
	}
}
