package sshterm

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"pkt.systems/steward/core"
	"pkt.systems/steward/schema"
)

// stubService implements core.Service with just enough behavior for the
// attach and session resolution paths.
type stubService struct {
	mu        sync.Mutex
	terminals schema.ListTerminalsResponse
	started   []schema.StartTerminalRequest
	inputs    []string
	resizes   []schema.ResizeTerminalRequest
	events    chan schema.TerminalStreamEvent
	watchErr  error
}

func (s *stubService) StartTurn(ctx context.Context, req schema.StartTurnRequest) (schema.StartTurnResponse, error) {
	return schema.StartTurnResponse{}, nil
}

func (s *stubService) GetTurn(ctx context.Context, req schema.GetTurnRequest) (schema.GetTurnResponse, error) {
	return schema.GetTurnResponse{}, schema.ErrTurnNotFound
}

func (s *stubService) ListTurns(ctx context.Context, req schema.ListTurnsRequest) (schema.ListTurnsResponse, error) {
	return schema.ListTurnsResponse{}, nil
}

func (s *stubService) WatchTurn(ctx context.Context, req schema.GetTurnRequest) (core.TurnWatch, error) {
	return core.TurnWatch{}, schema.ErrTurnNotFound
}

func (s *stubService) ResolveApproval(ctx context.Context, req schema.ResolveApprovalRequest) (schema.ResolveApprovalResponse, error) {
	return schema.ResolveApprovalResponse{}, schema.ErrApprovalNotFound
}

func (s *stubService) ListProposals(ctx context.Context, req schema.ListProposalsRequest) (schema.ListProposalsResponse, error) {
	return schema.ListProposalsResponse{}, nil
}

func (s *stubService) ApplyProposal(ctx context.Context, req schema.ApplyProposalRequest) (schema.ApplyProposalResponse, error) {
	return schema.ApplyProposalResponse{}, schema.ErrProposalNotFound
}

func (s *stubService) RejectProposal(ctx context.Context, req schema.RejectProposalRequest) (schema.RejectProposalResponse, error) {
	return schema.RejectProposalResponse{}, schema.ErrProposalNotFound
}

func (s *stubService) ProposalDiffFiles(ctx context.Context, req schema.ProposalDiffFilesRequest) (schema.ProposalDiffFilesResponse, error) {
	return schema.ProposalDiffFilesResponse{}, schema.ErrProposalNotFound
}

func (s *stubService) ProposalDiffFile(ctx context.Context, req schema.ProposalDiffFileRequest) (schema.ProposalDiffFileResponse, error) {
	return schema.ProposalDiffFileResponse{}, schema.ErrProposalNotFound
}

func (s *stubService) SetTrustMode(ctx context.Context, req schema.SetTrustModeRequest) (schema.SetTrustModeResponse, error) {
	return schema.SetTrustModeResponse{Mode: req.Mode}, nil
}

func (s *stubService) StartTerminal(ctx context.Context, req schema.StartTerminalRequest) (schema.StartTerminalResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, req)
	return schema.StartTerminalResponse{Session: schema.TerminalSnapshot{ID: "term-new", Running: true}}, nil
}

func (s *stubService) SendTerminalInput(ctx context.Context, req schema.SendTerminalInputRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, req.Data)
	return nil
}

func (s *stubService) ResizeTerminal(ctx context.Context, req schema.ResizeTerminalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, req)
	return nil
}

func (s *stubService) StopTerminal(ctx context.Context, req schema.StopTerminalRequest) (schema.StopTerminalResponse, error) {
	return schema.StopTerminalResponse{}, nil
}

func (s *stubService) ListTerminals(ctx context.Context, req schema.ListTerminalsRequest) (schema.ListTerminalsResponse, error) {
	return s.terminals, nil
}

func (s *stubService) WatchTerminal(ctx context.Context, userID schema.UserID, id schema.SessionID) (<-chan schema.TerminalStreamEvent, func(), error) {
	if s.watchErr != nil {
		return nil, nil, s.watchErr
	}
	return s.events, func() {}, nil
}

func (s *stubService) Readiness(ctx context.Context) schema.ReadinessReport {
	return schema.ReadinessReport{}
}

func (s *stubService) recordedInputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

// pipeRW joins a read side fed by the test with a write buffer the test
// inspects.
type pipeRW struct {
	reader io.Reader
	mu     sync.Mutex
	out    bytes.Buffer
}

func (p *pipeRW) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

func (p *pipeRW) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *pipeRW) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func TestSplitDetach(t *testing.T) {
	data, detach := splitDetach([]byte("hello"))
	if detach || string(data) != "hello" {
		t.Fatalf("unexpected split %q detach=%v", data, detach)
	}
	data, detach = splitDetach([]byte("ab\x1dcd"))
	if !detach || string(data) != "ab" {
		t.Fatalf("unexpected split %q detach=%v", data, detach)
	}
}

func TestAttachmentStreamsBufferAndOutput(t *testing.T) {
	service := &stubService{events: make(chan schema.TerminalStreamEvent, 8)}
	session := schema.TerminalSnapshot{ID: "term-1", Running: true}
	service.events <- schema.TerminalStreamEvent{
		Type:    schema.TerminalStreamSnapshot,
		Session: session,
		Buffer:  []byte("tail"),
	}
	service.events <- schema.TerminalStreamEvent{
		Type:    schema.TerminalStreamOutput,
		Session: session,
		Chunk:   []byte(" more"),
	}
	code := 0
	service.events <- schema.TerminalStreamEvent{
		Type:     schema.TerminalStreamExit,
		Session:  session,
		ExitCode: &code,
	}

	reader, writer := io.Pipe()
	defer writer.Close()
	rw := &pipeRW{reader: reader}
	attach := &attachment{service: service, userID: "alice", sessionID: "term-1", rw: rw}
	exitCode := attach.run(context.Background(), nil)
	if exitCode == nil || *exitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", exitCode)
	}
	if got := rw.output(); got != "tail more" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestAttachmentForwardsInputUntilDetach(t *testing.T) {
	service := &stubService{events: make(chan schema.TerminalStreamEvent)}

	reader, writer := io.Pipe()
	rw := &pipeRW{reader: reader}
	attach := &attachment{service: service, userID: "alice", sessionID: "term-1", rw: rw}

	done := make(chan *int, 1)
	go func() { done <- attach.run(context.Background(), nil) }()

	if _, err := writer.Write([]byte("ls -la\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(service.recordedInputs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("input never forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := service.recordedInputs()[0]; got != "ls -la\n" {
		t.Fatalf("unexpected input %q", got)
	}

	if _, err := writer.Write([]byte{detachKey}); err != nil {
		t.Fatalf("write detach: %v", err)
	}
	select {
	case exitCode := <-done:
		if exitCode != nil {
			t.Fatalf("detach must not report an exit code, got %v", exitCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("attachment did not detach")
	}
	_ = writer.Close()
}

func TestResolveSessionPrefersActive(t *testing.T) {
	service := &stubService{
		terminals: schema.ListTerminalsResponse{
			Sessions: []schema.TerminalSnapshot{
				{ID: "term-1", Running: true},
				{ID: "term-2", Running: true},
			},
			ActiveSession: "term-2",
		},
	}
	server := &Server{Service: service}
	id, err := server.resolveSession(context.Background(), "alice", "", 80, 24)
	if err != nil {
		t.Fatalf("resolveSession: %v", err)
	}
	if id != "term-2" {
		t.Fatalf("expected active session, got %s", id)
	}
}

func TestResolveSessionStartsShellWhenNoneRunning(t *testing.T) {
	service := &stubService{
		terminals: schema.ListTerminalsResponse{
			Sessions: []schema.TerminalSnapshot{{ID: "term-old", Running: false}},
		},
	}
	server := &Server{Service: service}
	id, err := server.resolveSession(context.Background(), "alice", "", 120, 40)
	if err != nil {
		t.Fatalf("resolveSession: %v", err)
	}
	if id != "term-new" {
		t.Fatalf("expected fresh session, got %s", id)
	}
	if len(service.started) != 1 || !service.started[0].SetActive {
		t.Fatalf("expected one active start, got %+v", service.started)
	}
	if len(service.resizes) != 1 || service.resizes[0].Cols != 120 || service.resizes[0].Rows != 40 {
		t.Fatalf("expected initial resize, got %+v", service.resizes)
	}
}

func TestResolveSessionHonorsRequest(t *testing.T) {
	server := &Server{Service: &stubService{}}
	id, err := server.resolveSession(context.Background(), "alice", "term-9", 80, 24)
	if err != nil {
		t.Fatalf("resolveSession: %v", err)
	}
	if id != "term-9" {
		t.Fatalf("expected requested session, got %s", id)
	}
}
