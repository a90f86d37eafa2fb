package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pkt.systems/steward/internal/persist"
	"pkt.systems/steward/internal/workspace"
	"pkt.systems/steward/schema"
)

type fakeStream struct {
	ch chan schema.AgentEvent
}

func (s *fakeStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	select {
	case event, ok := <-s.ch:
		if !ok {
			return schema.AgentEvent{}, io.EOF
		}
		return event, nil
	case <-ctx.Done():
		return schema.AgentEvent{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error { return nil }

type approvalCall struct {
	callID   string
	approved bool
}

type fakeHandle struct {
	stream    *fakeStream
	approvals chan approvalCall
	exitCode  int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		stream:    &fakeStream{ch: make(chan schema.AgentEvent, 16)},
		approvals: make(chan approvalCall, 4),
	}
}

func (h *fakeHandle) Events() EventStream { return h.stream }

func (h *fakeHandle) Approve(ctx context.Context, callID string, approved bool) error {
	h.approvals <- approvalCall{callID: callID, approved: approved}
	return nil
}

func (h *fakeHandle) Wait(ctx context.Context) (TurnResult, error) {
	return TurnResult{ExitCode: h.exitCode}, nil
}

func (h *fakeHandle) Close() error { return nil }

type fakeTransport struct {
	kind   schema.TransportKind
	report schema.ReadinessReport
	handle *fakeHandle
	runErr error

	mu      sync.Mutex
	runs    int
	lastReq TurnRunRequest
	lastCtx context.Context
}

func (t *fakeTransport) Kind() schema.TransportKind { return t.kind }

func (t *fakeTransport) Readiness(ctx context.Context) (schema.ReadinessReport, error) {
	return t.report, nil
}

func (t *fakeTransport) Run(ctx context.Context, req TurnRunRequest) (TurnHandle, error) {
	t.mu.Lock()
	t.runs++
	t.lastReq = req
	t.lastCtx = ctx
	t.mu.Unlock()
	if t.runErr != nil {
		return nil, t.runErr
	}
	return t.handle, nil
}

func readyTransport() *fakeTransport {
	return &fakeTransport{
		kind:   schema.TransportAppServer,
		report: schema.ReadinessReport{AppServer: true, LoggedIn: true},
		handle: newFakeHandle(),
	}
}

type sinkRecorder struct {
	mu        sync.Mutex
	turns     []schema.TurnNotice
	proposals []schema.ProposalNotice
	sessions  []schema.SessionNotice
}

func (r *sinkRecorder) OnTurnNotice(notice schema.TurnNotice) {
	r.mu.Lock()
	r.turns = append(r.turns, notice)
	r.mu.Unlock()
}

func (r *sinkRecorder) OnProposalNotice(notice schema.ProposalNotice) {
	r.mu.Lock()
	r.proposals = append(r.proposals, notice)
	r.mu.Unlock()
}

func (r *sinkRecorder) OnSessionNotice(notice schema.SessionNotice) {
	r.mu.Lock()
	r.sessions = append(r.sessions, notice)
	r.mu.Unlock()
}

type testRig struct {
	service  Service
	primary  *fakeTransport
	fallback *fakeTransport
	registry *workspace.Registry
	sink     *sinkRecorder
	loopRoot string
}

func newTestRig(t *testing.T, primary, fallback *fakeTransport) *testRig {
	t.Helper()
	dir := t.TempDir()
	loopRoot := filepath.Join(dir, "repo")
	if err := os.MkdirAll(loopRoot, 0o755); err != nil {
		t.Fatalf("mkdir loop root: %v", err)
	}
	registry := workspace.NewRegistry(nil)
	if err := registry.RegisterLoop(workspace.Loop{ID: "loop-1", Domain: "site", Root: loopRoot}); err != nil {
		t.Fatalf("register loop: %v", err)
	}
	store, err := persist.NewStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sink := &sinkRecorder{}
	var primaryT, fallbackT Transport
	if primary != nil {
		primaryT = primary
	}
	if fallback != nil {
		fallbackT = fallback
	}
	svc, err := NewService(schema.ServiceConfig{StateDir: dir}, ServiceDeps{
		Transport: primaryT,
		Fallback:  fallbackT,
		Registry:  registry,
		Store:     store,
		EventSink: sink,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testRig{
		service:  svc,
		primary:  primary,
		fallback: fallback,
		registry: registry,
		sink:     sink,
		loopRoot: loopRoot,
	}
}

func startTurn(t *testing.T, rig *testRig) schema.TurnID {
	t.Helper()
	resp, err := rig.service.StartTurn(context.Background(), schema.StartTurnRequest{
		UserID: "alice",
		LoopID: "loop-1",
		Prompt: "change the title",
	})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if !resp.OK || resp.TurnID == "" {
		t.Fatalf("unexpected start response %+v", resp)
	}
	return resp.TurnID
}

func collectUntilFinished(t *testing.T, watch TurnWatch) []schema.TurnEvent {
	t.Helper()
	events := append([]schema.TurnEvent(nil), watch.Replay...)
	for _, event := range events {
		if event.Type == schema.TurnEventFinished {
			return events
		}
	}
	if watch.Events == nil {
		t.Fatalf("turn not finished but no live channel")
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-watch.Events:
			if !ok {
				return events
			}
			events = append(events, event)
			if event.Type == schema.TurnEventFinished {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for finish, have %d events", len(events))
		}
	}
}

func waitForApprovalRequest(t *testing.T, watch TurnWatch) schema.TurnEvent {
	t.Helper()
	for _, event := range watch.Replay {
		if event.Type == schema.TurnEventApprovalRequest {
			return event
		}
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-watch.Events:
			if !ok {
				t.Fatalf("stream closed before approval request")
			}
			if event.Type == schema.TurnEventApprovalRequest {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for approval request")
		}
	}
}

func TestPlainTurnStreamsAndFinishes(t *testing.T) {
	primary := readyTransport()
	rig := newTestRig(t, primary, nil)
	turnID := startTurn(t, rig)

	watch, err := rig.service.WatchTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("WatchTurn: %v", err)
	}
	defer watch.Cancel()

	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventDelta, ID: "d1", Delta: "Hello"}
	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventDelta, ID: "d2", Delta: " world"}
	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventCompleted}

	events := collectUntilFinished(t, watch)
	if events[0].Type != schema.TurnEventStart {
		t.Fatalf("first event must be start, got %s", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != schema.TurnEventFinished || last.Finish != schema.FinishStop {
		t.Fatalf("unexpected terminal event %+v", last)
	}
	text := ""
	for _, event := range events {
		if event.Type == schema.TurnEventTextDelta {
			text += event.Delta
		}
	}
	if text != "Hello world" {
		t.Fatalf("unexpected assembled text %q", text)
	}

	resp, err := rig.service.GetTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if resp.Turn.Status != schema.TurnFinished {
		t.Fatalf("expected finished turn, got %s", resp.Turn.Status)
	}
}

func TestApprovalFlowAppliesAndResumes(t *testing.T) {
	primary := readyTransport()
	rig := newTestRig(t, primary, nil)
	turnID := startTurn(t, rig)

	watch, err := rig.service.WatchTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("WatchTurn: %v", err)
	}
	defer watch.Cancel()

	primary.handle.stream.ch <- schema.AgentEvent{
		Type: schema.AgentEventProposal,
		ID:   "call-1",
		Proposal: &schema.ProposalPayload{
			Summary: "update index",
			Files:   []schema.ProposedFile{{Path: "index.html", Content: "<h1>new</h1>"}},
			Diff:    "--- a/index.html\n+++ b/index.html\n@@ -1 +1 @@\n-<h1>old</h1>\n+<h1>new</h1>\n",
		},
	}

	request := waitForApprovalRequest(t, watch)
	if request.Token == "" || request.Proposal == nil {
		t.Fatalf("approval request missing token or proposal: %+v", request)
	}

	turn, err := rig.service.GetTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if turn.Turn.Status != schema.TurnWaitingApproval {
		t.Fatalf("expected waiting-approval, got %s", turn.Turn.Status)
	}

	resolved, err := rig.service.ResolveApproval(context.Background(), schema.ResolveApprovalRequest{
		UserID:   "alice",
		Token:    request.Token,
		Decision: schema.DecisionApprove,
	})
	if err != nil || !resolved.OK {
		t.Fatalf("ResolveApproval: ok=%v err=%v", resolved.OK, err)
	}
	if resolved.Proposal.Status != schema.ProposalApplied {
		t.Fatalf("expected applied, got %s", resolved.Proposal.Status)
	}

	select {
	case call := <-primary.handle.approvals:
		if call.callID != "call-1" || !call.approved {
			t.Fatalf("unexpected approval answer %+v", call)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("transport never received the approval answer")
	}

	data, err := os.ReadFile(filepath.Join(rig.loopRoot, "index.html"))
	if err != nil || string(data) != "<h1>new</h1>" {
		t.Fatalf("applied file wrong: %q err=%v", data, err)
	}

	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventCompleted}
	events := collectUntilFinished(t, watch)
	if events[len(events)-1].Finish != schema.FinishStop {
		t.Fatalf("turn should finish cleanly after approval")
	}

	// Replayed token reads the terminal state.
	replay, err := rig.service.ResolveApproval(context.Background(), schema.ResolveApprovalRequest{
		UserID:   "alice",
		Token:    request.Token,
		Decision: schema.DecisionApprove,
	})
	if err != nil || !replay.OK || replay.Proposal.Status != schema.ProposalApplied {
		t.Fatalf("token replay failed: %+v err=%v", replay, err)
	}
}

func TestRejectionResumesWithoutWriting(t *testing.T) {
	primary := readyTransport()
	rig := newTestRig(t, primary, nil)
	turnID := startTurn(t, rig)

	watch, err := rig.service.WatchTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("WatchTurn: %v", err)
	}
	defer watch.Cancel()

	primary.handle.stream.ch <- schema.AgentEvent{
		Type: schema.AgentEventProposal,
		ID:   "call-1",
		Proposal: &schema.ProposalPayload{
			Summary: "risky change",
			Files:   []schema.ProposedFile{{Path: "danger.txt", Content: "boom"}},
		},
	}
	request := waitForApprovalRequest(t, watch)

	resolved, err := rig.service.ResolveApproval(context.Background(), schema.ResolveApprovalRequest{
		UserID:   "alice",
		Token:    request.Token,
		Decision: schema.DecisionReject,
	})
	if err != nil || !resolved.OK || resolved.Proposal.Status != schema.ProposalRejected {
		t.Fatalf("reject failed: %+v err=%v", resolved, err)
	}

	select {
	case call := <-primary.handle.approvals:
		if call.approved {
			t.Fatalf("transport should be told the proposal was declined")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("transport never received the decision")
	}
	if _, err := os.Stat(filepath.Join(rig.loopRoot, "danger.txt")); !os.IsNotExist(err) {
		t.Fatalf("rejected file must not be written")
	}

	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventCompleted}
	events := collectUntilFinished(t, watch)
	if events[len(events)-1].Finish != schema.FinishStop {
		t.Fatalf("rejection must not fail the turn")
	}
}

func TestAutoApproveAllSkipsWaiting(t *testing.T) {
	primary := readyTransport()
	rig := newTestRig(t, primary, nil)
	if _, err := rig.service.SetTrustMode(context.Background(), schema.SetTrustModeRequest{
		UserID: "alice", LoopID: "loop-1", Mode: schema.TrustAutoApproveAll,
	}); err != nil {
		t.Fatalf("SetTrustMode: %v", err)
	}
	turnID := startTurn(t, rig)
	watch, err := rig.service.WatchTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("WatchTurn: %v", err)
	}
	defer watch.Cancel()

	primary.handle.stream.ch <- schema.AgentEvent{
		Type: schema.AgentEventProposal,
		ID:   "call-1",
		Proposal: &schema.ProposalPayload{
			Files: []schema.ProposedFile{{Path: "auto.txt", Content: "auto"}},
		},
	}
	select {
	case call := <-primary.handle.approvals:
		if !call.approved {
			t.Fatalf("auto mode must approve")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("auto approval never answered the transport")
	}
	if data, err := os.ReadFile(filepath.Join(rig.loopRoot, "auto.txt")); err != nil || string(data) != "auto" {
		t.Fatalf("auto-applied file wrong: %q err=%v", data, err)
	}

	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventCompleted}
	collectUntilFinished(t, watch)

	list, err := rig.service.ListProposals(context.Background(), schema.ListProposalsRequest{UserID: "alice", LoopID: "loop-1"})
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	if list.LastAutoApply == nil {
		t.Fatalf("last auto apply timestamp missing")
	}
	if list.PendingCount != 0 {
		t.Fatalf("no proposal should stay pending, got %d", list.PendingCount)
	}
}

func TestDegradedTransportRefusesWithoutConsent(t *testing.T) {
	primary := &fakeTransport{
		kind:   schema.TransportAppServer,
		report: schema.ReadinessReport{AppServer: false},
		handle: newFakeHandle(),
	}
	fallback := &fakeTransport{
		kind:   schema.TransportExec,
		report: schema.ReadinessReport{CLIAvailable: true},
		handle: newFakeHandle(),
	}
	rig := newTestRig(t, primary, fallback)

	resp, err := rig.service.StartTurn(context.Background(), schema.StartTurnRequest{
		UserID: "alice",
		LoopID: "loop-1",
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if resp.OK {
		t.Fatalf("turn must not start without fallback consent")
	}
	if resp.Readiness == nil || !resp.Readiness.CLIAvailable || resp.Readiness.AppServer {
		t.Fatalf("readiness report missing or wrong: %+v", resp.Readiness)
	}
	if resp.Message == "" {
		t.Fatalf("expected remediation message")
	}

	resp, err = rig.service.StartTurn(context.Background(), schema.StartTurnRequest{
		UserID:            "alice",
		LoopID:            "loop-1",
		Prompt:            "hello",
		AllowExecFallback: true,
	})
	if err != nil || !resp.OK {
		t.Fatalf("fallback start failed: %+v err=%v", resp, err)
	}
	turn, err := rig.service.GetTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: resp.TurnID})
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if turn.Turn.Transport != schema.TransportExec {
		t.Fatalf("expected exec transport, got %s", turn.Turn.Transport)
	}
	close(fallback.handle.stream.ch)
}

func TestStartTurnValidation(t *testing.T) {
	rig := newTestRig(t, readyTransport(), nil)
	ctx := context.Background()

	if _, err := rig.service.StartTurn(ctx, schema.StartTurnRequest{UserID: "alice", LoopID: "loop-1"}); !errors.Is(err, schema.ErrEmptyPrompt) {
		t.Fatalf("expected empty prompt error, got %v", err)
	}
	if _, err := rig.service.StartTurn(ctx, schema.StartTurnRequest{UserID: "alice", LoopID: "nope", Prompt: "x"}); !errors.Is(err, schema.ErrInvalidLoop) {
		t.Fatalf("expected invalid loop error, got %v", err)
	}
	if _, err := rig.service.StartTurn(ctx, schema.StartTurnRequest{UserID: "Bad User", LoopID: "loop-1", Prompt: "x"}); !errors.Is(err, schema.ErrInvalidUser) {
		t.Fatalf("expected invalid user error, got %v", err)
	}

	resp, err := rig.service.StartTurn(ctx, schema.StartTurnRequest{
		UserID:        "alice",
		LoopID:        "loop-1",
		Prompt:        "x",
		ScopeOverride: "never-minted",
	})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if resp.OK || resp.Message == "" {
		t.Fatalf("invalid override token must refuse the turn: %+v", resp)
	}
}

func TestScopeOverrideWidensRoots(t *testing.T) {
	primary := readyTransport()
	rig := newTestRig(t, primary, nil)
	extra := t.TempDir()
	token, err := rig.registry.MintOverride([]string{extra})
	if err != nil {
		t.Fatalf("MintOverride: %v", err)
	}
	resp, err := rig.service.StartTurn(context.Background(), schema.StartTurnRequest{
		UserID:        "alice",
		LoopID:        "loop-1",
		Prompt:        "touch the extra root",
		ScopeOverride: token,
	})
	if err != nil || !resp.OK {
		t.Fatalf("StartTurn: %+v err=%v", resp, err)
	}
	primary.mu.Lock()
	roots := primary.lastReq.ScopeRoots
	primary.mu.Unlock()
	if !PathWithinRoots(filepath.Join(extra, "f.txt"), roots) {
		t.Fatalf("override root missing from scope: %v", roots)
	}

	// Tokens are single use.
	again, err := rig.service.StartTurn(context.Background(), schema.StartTurnRequest{
		UserID:        "alice",
		LoopID:        "loop-1",
		Prompt:        "reuse the token",
		ScopeOverride: token,
	})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if again.OK {
		t.Fatalf("override token must be single use")
	}
	close(primary.handle.stream.ch)
}

func TestTurnOutlivesCallerContext(t *testing.T) {
	primary := readyTransport()
	rig := newTestRig(t, primary, nil)

	callerCtx, cancel := context.WithCancel(context.Background())
	resp, err := rig.service.StartTurn(callerCtx, schema.StartTurnRequest{
		UserID: "alice",
		LoopID: "loop-1",
		Prompt: "outlive the request",
	})
	if err != nil || !resp.OK {
		t.Fatalf("StartTurn: %+v err=%v", resp, err)
	}
	cancel()

	primary.mu.Lock()
	runCtx := primary.lastCtx
	primary.mu.Unlock()
	if runCtx == nil {
		t.Fatalf("transport never ran")
	}
	if err := runCtx.Err(); err != nil {
		t.Fatalf("cancelling the caller must not cancel the run context: %v", err)
	}

	watch, err := rig.service.WatchTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: resp.TurnID})
	if err != nil {
		t.Fatalf("WatchTurn: %v", err)
	}
	defer watch.Cancel()

	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventDelta, ID: "d1", Delta: "still here"}
	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventCompleted}
	events := collectUntilFinished(t, watch)
	if events[len(events)-1].Finish != schema.FinishStop {
		t.Fatalf("turn must finish cleanly after the caller goes away")
	}
}

func TestScopeOverrideSurvivesRefusedStart(t *testing.T) {
	primary := &fakeTransport{
		kind:   schema.TransportAppServer,
		report: schema.ReadinessReport{AppServer: false},
		handle: newFakeHandle(),
	}
	rig := newTestRig(t, primary, nil)
	extra := t.TempDir()
	token, err := rig.registry.MintOverride([]string{extra})
	if err != nil {
		t.Fatalf("MintOverride: %v", err)
	}

	refused, err := rig.service.StartTurn(context.Background(), schema.StartTurnRequest{
		UserID:        "alice",
		LoopID:        "loop-1",
		Prompt:        "not yet",
		ScopeOverride: token,
	})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if refused.OK {
		t.Fatalf("turn must not start while the transport is down")
	}

	primary.report = schema.ReadinessReport{AppServer: true, LoggedIn: true}
	resp, err := rig.service.StartTurn(context.Background(), schema.StartTurnRequest{
		UserID:        "alice",
		LoopID:        "loop-1",
		Prompt:        "now with the same token",
		ScopeOverride: token,
	})
	if err != nil || !resp.OK {
		t.Fatalf("refused start must not burn the token: %+v err=%v", resp, err)
	}
	primary.mu.Lock()
	roots := primary.lastReq.ScopeRoots
	primary.mu.Unlock()
	if !PathWithinRoots(filepath.Join(extra, "f.txt"), roots) {
		t.Fatalf("override root missing from scope: %v", roots)
	}
	close(primary.handle.stream.ch)
}

func TestUnknownApprovalToken(t *testing.T) {
	rig := newTestRig(t, readyTransport(), nil)
	_, err := rig.service.ResolveApproval(context.Background(), schema.ResolveApprovalRequest{
		UserID:   "alice",
		Token:    "no-such-token",
		Decision: schema.DecisionApprove,
	})
	if !errors.Is(err, schema.ErrApprovalNotFound) {
		t.Fatalf("expected approval not found, got %v", err)
	}
}

func TestFailedStreamFailsTurn(t *testing.T) {
	primary := readyTransport()
	primary.handle.exitCode = 1
	rig := newTestRig(t, primary, nil)
	turnID := startTurn(t, rig)
	watch, err := rig.service.WatchTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("WatchTurn: %v", err)
	}
	defer watch.Cancel()

	close(primary.handle.stream.ch)
	events := collectUntilFinished(t, watch)
	if events[len(events)-1].Finish != schema.FinishFailed {
		t.Fatalf("nonzero exit must fail the turn")
	}
	turn, err := rig.service.GetTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if turn.Turn.Status != schema.TurnFailed {
		t.Fatalf("expected failed turn, got %s", turn.Turn.Status)
	}
}

func TestProposalDiffViews(t *testing.T) {
	primary := readyTransport()
	rig := newTestRig(t, primary, nil)
	turnID := startTurn(t, rig)
	watch, err := rig.service.WatchTurn(context.Background(), schema.GetTurnRequest{UserID: "alice", TurnID: turnID})
	if err != nil {
		t.Fatalf("WatchTurn: %v", err)
	}
	defer watch.Cancel()

	primary.handle.stream.ch <- schema.AgentEvent{
		Type: schema.AgentEventProposal,
		ID:   "call-1",
		Proposal: &schema.ProposalPayload{
			Files: []schema.ProposedFile{{Path: "index.html", Content: "<h1>new</h1>\n"}},
			Diff:  "--- a/index.html\n+++ b/index.html\n@@ -1 +1 @@\n-<h1>old</h1>\n+<h1>new</h1>\n",
		},
	}
	request := waitForApprovalRequest(t, watch)

	files, err := rig.service.ProposalDiffFiles(context.Background(), schema.ProposalDiffFilesRequest{
		UserID: "alice", ID: request.Proposal.ID,
	})
	if err != nil {
		t.Fatalf("ProposalDiffFiles: %v", err)
	}
	if len(files.Files) != 1 || files.Files[0].Path != "index.html" {
		t.Fatalf("unexpected diff summary %+v", files.Files)
	}
	if files.Files[0].Additions != 1 || files.Files[0].Deletions != 1 {
		t.Fatalf("unexpected counters %+v", files.Files[0])
	}

	file, err := rig.service.ProposalDiffFile(context.Background(), schema.ProposalDiffFileRequest{
		UserID: "alice", ID: request.Proposal.ID, Path: "index.html",
	})
	if err != nil {
		t.Fatalf("ProposalDiffFile: %v", err)
	}
	if file.UnifiedPatch == "" || file.HunkCount != 1 {
		t.Fatalf("unexpected patch view %+v", file)
	}

	if _, err := rig.service.ResolveApproval(context.Background(), schema.ResolveApprovalRequest{
		UserID: "alice", Token: request.Token, Decision: schema.DecisionReject,
	}); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	primary.handle.stream.ch <- schema.AgentEvent{Type: schema.AgentEventCompleted}
	collectUntilFinished(t, watch)
}
