package appserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"

	"pkt.systems/steward/core"
	"pkt.systems/steward/schema"
)

// fakeServer answers one status probe or one turn per connection.
type fakeServer struct {
	listener net.Listener
	loggedIn bool
}

func startFakeServer(t *testing.T, loggedIn bool) (*fakeServer, string) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "agent.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &fakeServer{listener: listener, loggedIn: loggedIn}
	go server.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return server, socket
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return
	}
	switch req.Method {
	case "status":
		_ = writeLine(conn, statusReply{AppServer: true, LoggedIn: s.loggedIn})
	case "turn.start":
		_ = writeLine(conn, schema.AgentEvent{Type: schema.AgentEventStarted})
		_ = writeLine(conn, schema.AgentEvent{Type: schema.AgentEventDelta, ID: "d1", Delta: "echo: " + req.Prompt})
		_ = writeLine(conn, schema.AgentEvent{
			Type: schema.AgentEventProposal,
			ID:   "call-1",
			Proposal: &schema.ProposalPayload{
				Summary: "change",
				Files:   []schema.ProposedFile{{Path: "x.txt", Content: "x"}},
			},
		})
		// wait for the approval answer before finishing the turn
		answer, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var approval request
		if err := json.Unmarshal(answer, &approval); err != nil || approval.Method != "turn.approve" {
			_ = writeLine(conn, schema.AgentEvent{Type: schema.AgentEventFailed, Message: "bad approval"})
			return
		}
		if approval.Approved != nil && *approval.Approved {
			_ = writeLine(conn, schema.AgentEvent{Type: schema.AgentEventCompleted})
		} else {
			_ = writeLine(conn, schema.AgentEvent{Type: schema.AgentEventCompleted, Message: "declined"})
		}
	}
}

func TestReadinessAgainstRunningServer(t *testing.T) {
	_, socket := startFakeServer(t, true)
	transport, err := New(Config{SocketPath: socket}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := transport.Readiness(context.Background())
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if !report.AppServer || !report.LoggedIn {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReadinessNotLoggedIn(t *testing.T) {
	_, socket := startFakeServer(t, false)
	transport, err := New(Config{SocketPath: socket}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := transport.Readiness(context.Background())
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if !report.AppServer || report.LoggedIn {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReadinessDeadSocket(t *testing.T) {
	transport, err := New(Config{SocketPath: filepath.Join(t.TempDir(), "missing.sock")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report, err := transport.Readiness(context.Background())
	if err != nil {
		t.Fatalf("dead socket must yield a report, got error %v", err)
	}
	if report.AppServer || report.Detail == "" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunStreamsAndAnswersApproval(t *testing.T) {
	_, socket := startFakeServer(t, true)
	transport, err := New(Config{SocketPath: socket}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	handle, err := transport.Run(context.Background(), core.TurnRunRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer handle.Close()
	stream := handle.Events()
	ctx := context.Background()

	var types []schema.AgentEventType
	for {
		event, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		types = append(types, event.Type)
		if event.Type == schema.AgentEventProposal {
			if event.ID != "call-1" {
				t.Fatalf("unexpected call id %q", event.ID)
			}
			if err := handle.Approve(ctx, event.ID, true); err != nil {
				t.Fatalf("Approve: %v", err)
			}
		}
		if event.Type == schema.AgentEventCompleted {
			break
		}
	}
	want := []schema.AgentEventType{
		schema.AgentEventStarted,
		schema.AgentEventDelta,
		schema.AgentEventProposal,
		schema.AgentEventCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("unexpected event sequence %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: want %s, got %s", i, want[i], types[i])
		}
	}
	if _, err := handle.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRunRequiresPrompt(t *testing.T) {
	_, socket := startFakeServer(t, true)
	transport, err := New(Config{SocketPath: socket}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := transport.Run(context.Background(), core.TurnRunRequest{}); !errors.Is(err, schema.ErrEmptyPrompt) {
		t.Fatalf("expected empty prompt error, got %v", err)
	}
}

func TestRunDeadSocketClassified(t *testing.T) {
	transport, err := New(Config{SocketPath: filepath.Join(t.TempDir(), "missing.sock")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = transport.Run(context.Background(), core.TurnRunRequest{Prompt: "x"})
	var terr *core.TransportError
	if !errors.As(err, &terr) || terr.Kind != core.TransportErrorUnavailable {
		t.Fatalf("expected unavailable transport error, got %v", err)
	}
}
