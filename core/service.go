package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/steward/internal/unidiff"
	"pkt.systems/steward/schema"
)

const sweepInterval = 5 * time.Minute

type turnState struct {
	id           schema.TurnID
	userID       schema.UserID
	loopID       schema.LoopID
	domain       schema.Domain
	transport    schema.TransportKind
	scopeRoots   []string
	editorTarget string
	status       schema.TurnStatus
	startedAt    time.Time
	finishedAt   *time.Time
}

type service struct {
	cfg    schema.ServiceConfig
	deps   ServiceDeps
	log    pslog.Logger
	ledger *ledgerStore
	queue  *proposalQueue

	mu        sync.Mutex
	turns     map[schema.TurnID]*turnState
	turnOrder []schema.TurnID
	lastSweep time.Time
}

// NewService wires the core service from its collaborators.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Transport == nil && deps.Fallback == nil {
		return nil, errors.New("at least one agent transport is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("workspace registry is required")
	}
	logger := deps.Logger
	return &service{
		cfg:       normalized,
		deps:      deps,
		log:       logger,
		ledger:    newLedgerStore(logger),
		queue:     newProposalQueue(normalized.DefaultTrustMode, deps.Store, deps.Vault, logger),
		turns:     make(map[schema.TurnID]*turnState),
		lastSweep: time.Now(),
	}, nil
}

// StartTurn validates the request, picks a transport, launches the
// agent, and registers the turn. A degraded transport with no allowed
// fallback yields OK=false plus the readiness report, not an error.
func (s *service) StartTurn(ctx context.Context, req schema.StartTurnRequest) (schema.StartTurnResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.StartTurnResponse{}, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return schema.StartTurnResponse{}, schema.ErrEmptyPrompt
	}
	loop, ok := s.deps.Registry.Loop(req.LoopID)
	if !ok {
		return schema.StartTurnResponse{}, schema.ErrInvalidLoop
	}
	domain := req.Domain
	if domain == "" {
		domain = loop.Domain
	}

	transport, report, ready := s.pickTransport(ctx, req.AllowExecFallback)
	if !ready {
		return schema.StartTurnResponse{
			Message:   remediation(report),
			Readiness: &report,
		}, nil
	}

	// Consumed only once a transport is ready; a refused start must not
	// burn the single-use token.
	var overrideRoots []string
	if req.ScopeOverride != "" {
		roots, ok := s.deps.Registry.ConsumeOverride(req.ScopeOverride)
		if !ok {
			return schema.StartTurnResponse{
				Message: "scope override token is invalid or already used",
			}, nil
		}
		overrideRoots = roots
	}
	scopeRoots := ResolveScopeRoots(ScopeInput{
		LoopRoot:      loop.Root,
		DomainRoots:   s.deps.Registry.DomainRoots(domain),
		OverrideRoots: overrideRoots,
	})

	prompt := req.Prompt
	if s.deps.Planning != nil {
		prompt = s.deps.Planning.Expand(prompt)
	}
	run := TurnRunRequest{
		Prompt:     prompt,
		Messages:   req.Messages,
		WorkingDir: loop.Root,
		ScopeRoots: scopeRoots,
	}
	if s.deps.Settings != nil {
		if snap, err := s.deps.Settings.Snapshot(req.LoopID); err == nil {
			run.SystemPrompt = snap.SystemPrompt
			run.Model = snap.Model
		} else if s.log != nil {
			s.log.Warn("settings snapshot failed", "loop", req.LoopID, "err", err)
		}
	}

	// The turn outlives the request that started it; only the turn's own
	// lifecycle may cancel the agent process.
	handle, err := transport.Run(context.WithoutCancel(ctx), run)
	if err != nil {
		if s.log != nil {
			s.log.Warn("turn launch failed", "loop", req.LoopID, "transport", transport.Kind(), "err", err)
		}
		return schema.StartTurnResponse{
			Message:   launchFailureMessage(err),
			Readiness: &report,
		}, nil
	}

	turn := &turnState{
		id:           schema.TurnID(newID()),
		userID:       req.UserID,
		loopID:       req.LoopID,
		domain:       domain,
		transport:    transport.Kind(),
		scopeRoots:   scopeRoots,
		editorTarget: req.EditorTarget,
		status:       schema.TurnRunning,
		startedAt:    time.Now(),
	}
	s.mu.Lock()
	s.turns[turn.id] = turn
	s.turnOrder = append(s.turnOrder, turn.id)
	s.mu.Unlock()

	s.ledger.ensure(turn.id)
	s.ledger.append(turn.id, schema.TurnEvent{Type: schema.TurnEventStart, TurnID: turn.id})
	s.notifyTurn(schema.TurnNoticeStarted, turn)
	if s.log != nil {
		s.log.Info("turn started", "turn", turn.id, "loop", turn.loopID, "transport", turn.transport, "user", turn.userID)
	}

	go s.consumeTurn(turn, handle)
	s.maybeSweep()
	return schema.StartTurnResponse{OK: true, TurnID: turn.id}, nil
}

func (s *service) GetTurn(ctx context.Context, req schema.GetTurnRequest) (schema.GetTurnResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.GetTurnResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := s.turns[req.TurnID]
	if turn == nil {
		return schema.GetTurnResponse{}, schema.ErrTurnNotFound
	}
	return schema.GetTurnResponse{Turn: turnSnapshotLocked(turn)}, nil
}

func (s *service) ListTurns(ctx context.Context, req schema.ListTurnsRequest) (schema.ListTurnsResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.ListTurnsResponse{}, err
	}
	s.maybeSweep()
	s.mu.Lock()
	defer s.mu.Unlock()
	var turns []schema.TurnSnapshot
	for _, id := range s.turnOrder {
		turn := s.turns[id]
		if turn == nil {
			continue
		}
		if req.LoopID != "" && turn.loopID != req.LoopID {
			continue
		}
		turns = append(turns, turnSnapshotLocked(turn))
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].StartedAt.After(turns[j].StartedAt) })
	return schema.ListTurnsResponse{Turns: turns}, nil
}

// WatchTurn joins a turn's event ledger: full replay so far plus a live
// channel, with no gap and no duplicate between them.
func (s *service) WatchTurn(ctx context.Context, req schema.GetTurnRequest) (TurnWatch, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return TurnWatch{}, err
	}
	s.mu.Lock()
	turn := s.turns[req.TurnID]
	if turn == nil {
		s.mu.Unlock()
		return TurnWatch{}, schema.ErrTurnNotFound
	}
	snapshot := turnSnapshotLocked(turn)
	s.mu.Unlock()

	replay, events, cancel, ok := s.ledger.watch(req.TurnID)
	if !ok {
		return TurnWatch{}, schema.ErrTurnNotFound
	}
	return TurnWatch{Turn: snapshot, Replay: replay, Events: events, Cancel: cancel}, nil
}

// ResolveApproval decides a pending approval by token. A replayed token
// reads the terminal proposal state instead of failing.
func (s *service) ResolveApproval(ctx context.Context, req schema.ResolveApprovalRequest) (schema.ResolveApprovalResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.ResolveApprovalResponse{}, err
	}
	if req.Decision != schema.DecisionApprove && req.Decision != schema.DecisionReject {
		return schema.ResolveApprovalResponse{}, schema.ErrInvalidRequest
	}
	id, ok := s.queue.byApprovalToken(req.Token)
	if !ok {
		return schema.ResolveApprovalResponse{}, schema.ErrApprovalNotFound
	}
	snapshot, resolved, message, err := s.resolveProposal(req.UserID, id, req.Token, req.Decision)
	if err != nil {
		return schema.ResolveApprovalResponse{}, err
	}
	s.audit("approval resolved", "user", req.UserID, "proposal", id, "decision", req.Decision, "ok", resolved)
	return schema.ResolveApprovalResponse{OK: resolved, Proposal: snapshot, Message: message}, nil
}

func (s *service) ListProposals(ctx context.Context, req schema.ListProposalsRequest) (schema.ListProposalsResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.ListProposalsResponse{}, err
	}
	if err := schema.ValidateLoopID(req.LoopID); err != nil {
		return schema.ListProposalsResponse{}, err
	}
	proposals, pending, trust, lastAuto := s.queue.list(req.LoopID)
	return schema.ListProposalsResponse{
		Proposals:     proposals,
		PendingCount:  pending,
		TrustMode:     trust,
		LastAutoApply: lastAuto,
	}, nil
}

func (s *service) ApplyProposal(ctx context.Context, req schema.ApplyProposalRequest) (schema.ApplyProposalResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.ApplyProposalResponse{}, err
	}
	snapshot, ok, message, err := s.resolveProposal(req.UserID, req.ID, req.Token, schema.DecisionApprove)
	if err != nil {
		return schema.ApplyProposalResponse{}, err
	}
	s.audit("proposal apply requested", "user", req.UserID, "proposal", req.ID, "ok", ok)
	return schema.ApplyProposalResponse{OK: ok, Proposal: snapshot, Message: message}, nil
}

func (s *service) RejectProposal(ctx context.Context, req schema.RejectProposalRequest) (schema.RejectProposalResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.RejectProposalResponse{}, err
	}
	snapshot, ok, message, err := s.resolveProposal(req.UserID, req.ID, req.Token, schema.DecisionReject)
	if err != nil {
		return schema.RejectProposalResponse{}, err
	}
	s.audit("proposal reject requested", "user", req.UserID, "proposal", req.ID, "ok", ok)
	return schema.RejectProposalResponse{OK: ok, Proposal: snapshot, Message: message}, nil
}

func (s *service) ProposalDiffFiles(ctx context.Context, req schema.ProposalDiffFilesRequest) (schema.ProposalDiffFilesResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.ProposalDiffFilesResponse{}, err
	}
	diff, ok := s.queue.diff(req.ID)
	if !ok {
		return schema.ProposalDiffFilesResponse{}, schema.ErrProposalNotFound
	}
	return schema.ProposalDiffFilesResponse{Files: unidiff.Summaries(diff)}, nil
}

func (s *service) ProposalDiffFile(ctx context.Context, req schema.ProposalDiffFileRequest) (schema.ProposalDiffFileResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.ProposalDiffFileResponse{}, err
	}
	diff, ok := s.queue.diff(req.ID)
	if !ok {
		return schema.ProposalDiffFileResponse{}, schema.ErrProposalNotFound
	}
	file, ok := unidiff.FilePatch(diff, req.Path)
	if !ok {
		return schema.ProposalDiffFileResponse{}, fmt.Errorf("%s: %w", req.Path, schema.ErrInvalidRequest)
	}
	return schema.ProposalDiffFileResponse{
		UnifiedPatch: file.Patch,
		Additions:    file.Additions,
		Deletions:    file.Deletions,
		HunkCount:    file.Hunks,
	}, nil
}

// SetTrustMode switches the queue policy for a loop. Proposals already
// pending keep the mode sampled at their creation.
func (s *service) SetTrustMode(ctx context.Context, req schema.SetTrustModeRequest) (schema.SetTrustModeResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.SetTrustModeResponse{}, err
	}
	if err := schema.ValidateLoopID(req.LoopID); err != nil {
		return schema.SetTrustModeResponse{}, err
	}
	mode, err := schema.NormalizeTrustMode(string(req.Mode))
	if err != nil {
		return schema.SetTrustModeResponse{}, err
	}
	s.queue.setTrustMode(req.LoopID, mode)
	s.audit("trust mode changed", "user", req.UserID, "loop", req.LoopID, "mode", mode)
	return schema.SetTrustModeResponse{Mode: mode}, nil
}

func (s *service) StartTerminal(ctx context.Context, req schema.StartTerminalRequest) (schema.StartTerminalResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.StartTerminalResponse{}, err
	}
	if s.deps.Terminals == nil {
		return schema.StartTerminalResponse{}, errors.New("terminal sessions are not configured")
	}
	return s.deps.Terminals.Start(ctx, req)
}

func (s *service) SendTerminalInput(ctx context.Context, req schema.SendTerminalInputRequest) error {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return err
	}
	if s.deps.Terminals == nil {
		return schema.ErrSessionNotFound
	}
	return s.deps.Terminals.SendInput(ctx, req)
}

func (s *service) ResizeTerminal(ctx context.Context, req schema.ResizeTerminalRequest) error {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return err
	}
	if s.deps.Terminals == nil {
		return schema.ErrSessionNotFound
	}
	return s.deps.Terminals.Resize(ctx, req)
}

func (s *service) StopTerminal(ctx context.Context, req schema.StopTerminalRequest) (schema.StopTerminalResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.StopTerminalResponse{}, err
	}
	if s.deps.Terminals == nil {
		return schema.StopTerminalResponse{}, schema.ErrSessionNotFound
	}
	return s.deps.Terminals.Stop(ctx, req)
}

func (s *service) ListTerminals(ctx context.Context, req schema.ListTerminalsRequest) (schema.ListTerminalsResponse, error) {
	if err := schema.ValidateUserID(req.UserID); err != nil {
		return schema.ListTerminalsResponse{}, err
	}
	if s.deps.Terminals == nil {
		return schema.ListTerminalsResponse{}, nil
	}
	return s.deps.Terminals.List(ctx, req)
}

func (s *service) WatchTerminal(ctx context.Context, userID schema.UserID, id schema.SessionID) (<-chan schema.TerminalStreamEvent, func(), error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return nil, nil, err
	}
	if s.deps.Terminals == nil {
		return nil, nil, schema.ErrSessionNotFound
	}
	return s.deps.Terminals.Watch(ctx, userID, id)
}

// Readiness reports transport health across the primary and fallback
// backends.
func (s *service) Readiness(ctx context.Context) schema.ReadinessReport {
	var report schema.ReadinessReport
	if s.deps.Transport != nil {
		primary, err := s.deps.Transport.Readiness(ctx)
		if err != nil {
			report.Detail = err.Error()
		} else {
			report = primary
		}
	}
	if s.deps.Fallback != nil {
		fallback, err := s.deps.Fallback.Readiness(ctx)
		if err == nil && fallback.CLIAvailable {
			report.CLIAvailable = true
		}
	}
	return report
}

// pickTransport returns the transport a new turn should use. Primary
// needs a running, logged-in app server; exec fallback needs the CLI on
// PATH and the caller's consent.
func (s *service) pickTransport(ctx context.Context, allowFallback bool) (Transport, schema.ReadinessReport, bool) {
	var report schema.ReadinessReport
	if s.deps.Transport != nil {
		primary, err := s.deps.Transport.Readiness(ctx)
		if err == nil {
			report = primary
			if primary.AppServer && primary.LoggedIn {
				return s.deps.Transport, report, true
			}
		} else {
			report.Detail = err.Error()
		}
	}
	if s.deps.Fallback != nil {
		fallback, err := s.deps.Fallback.Readiness(ctx)
		if err == nil && fallback.CLIAvailable {
			report.CLIAvailable = true
			if allowFallback {
				return s.deps.Fallback, report, true
			}
		}
	}
	return nil, report, false
}

func remediation(report schema.ReadinessReport) string {
	switch {
	case !report.AppServer && report.CLIAvailable:
		return "agent app server is not running; retry with exec fallback enabled or start the app server"
	case report.AppServer && !report.LoggedIn:
		return "agent app server is running but not logged in; run the agent login flow"
	default:
		return "no agent transport is available; install the agent CLI or start the app server"
	}
}

func launchFailureMessage(err error) string {
	var terr *TransportError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case TransportErrorUnauthorized:
			return "agent transport refused the turn: not logged in"
		case TransportErrorUnavailable:
			return "agent transport is unreachable: " + terr.Error()
		case TransportErrorTimeout:
			return "agent transport timed out starting the turn"
		case TransportErrorExec:
			return "agent subprocess failed to start: " + terr.Error()
		}
	}
	return "turn could not be started: " + err.Error()
}

// consumeTurn drains the transport stream, translating agent events to
// ledger events and pausing on proposals until they resolve. It owns the
// turn's terminal transition.
func (s *service) consumeTurn(turn *turnState, handle TurnHandle) {
	ctx := context.Background()
	stream := handle.Events()
	finished := false
	var finish schema.FinishStatus

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if s.log != nil {
					s.log.Warn("turn stream failed", "turn", turn.id, "err", err)
				}
				finished = true
				finish = schema.FinishFailed
			}
			break
		}
		switch event.Type {
		case schema.AgentEventStarted:
			// start was already appended at registration
		case schema.AgentEventDelta:
			s.ledger.append(turn.id, schema.TurnEvent{
				Type:    schema.TurnEventTextDelta,
				TurnID:  turn.id,
				DeltaID: event.ID,
				Delta:   event.Delta,
			})
		case schema.AgentEventProposal:
			if event.Proposal != nil {
				s.handleProposal(ctx, turn, handle, event.ID, event.Proposal)
			}
		case schema.AgentEventCompleted:
			finished = true
			finish = schema.FinishStop
		case schema.AgentEventFailed:
			finished = true
			finish = schema.FinishFailed
		case schema.AgentEventError:
			if s.log != nil {
				s.log.Warn("turn stream error event", "turn", turn.id, "message", event.Message)
			}
		}
		if finished {
			break
		}
	}

	result, err := handle.Wait(ctx)
	_ = handle.Close()
	if !finished {
		// EOF without a terminal event: derive the outcome from the exit.
		if err != nil || result.ExitCode != 0 {
			finish = schema.FinishFailed
		} else {
			finish = schema.FinishStop
		}
	}
	s.finishTurn(turn, finish)
}

func (s *service) finishTurn(turn *turnState, finish schema.FinishStatus) {
	now := time.Now()
	s.mu.Lock()
	if turn.finishedAt != nil {
		s.mu.Unlock()
		return
	}
	turn.finishedAt = &now
	if finish == schema.FinishStop {
		turn.status = schema.TurnFinished
	} else {
		turn.status = schema.TurnFailed
	}
	s.mu.Unlock()

	s.ledger.append(turn.id, schema.TurnEvent{Type: schema.TurnEventFinished, TurnID: turn.id, Finish: finish})
	s.notifyTurn(schema.TurnNoticeFinished, turn)
	if s.log != nil {
		s.log.Info("turn finished", "turn", turn.id, "loop", turn.loopID, "status", turn.status)
	}
}

// handleProposal registers a change proposal and either auto-applies it
// or suspends the turn until a decision lands. The trust mode sampled at
// creation governs this proposal even if the mode flips meanwhile.
func (s *service) handleProposal(ctx context.Context, turn *turnState, handle TurnHandle, callID string, payload *schema.ProposalPayload) {
	snapshot, token, trust := s.queue.create(proposalInput{
		TurnID:       turn.id,
		LoopID:       turn.loopID,
		EditorTarget: firstNonEmpty(payload.EditorTarget, turn.editorTarget),
		Kind:         payload.Kind,
		Summary:      payload.Summary,
		Files:        payload.Files,
		Diff:         payload.Diff,
		Metadata:     payload.Metadata,
		ScopeRoots:   turn.scopeRoots,
	})
	s.notifyProposal(turn.userID, schema.ProposalNoticeCreated, snapshot)
	s.ledger.append(turn.id, schema.TurnEvent{
		Type:     schema.TurnEventApprovalRequest,
		TurnID:   turn.id,
		Proposal: &snapshot,
		Token:    token,
	})

	if trust == schema.TrustAutoApproveAll {
		resolved, ok, _, err := s.queue.resolve(snapshot.ID, token, schema.DecisionApprove)
		if err == nil {
			s.queue.markAutoApply(turn.loopID)
			s.notifyProposal(turn.userID, schema.ProposalNoticeResolved, resolved)
			s.audit("proposal auto-applied", "proposal", snapshot.ID, "loop", turn.loopID, "ok", ok)
		}
		if err := handle.Approve(ctx, callID, ok); err != nil && s.log != nil {
			s.log.Warn("approval answer failed", "turn", turn.id, "proposal", snapshot.ID, "err", err)
		}
		return
	}

	s.setTurnStatus(turn, schema.TurnWaitingApproval)
	decisionCh := s.queue.registerWaiter(token)
	defer s.queue.dropWaiter(token)

	var decision schema.ApprovalDecision
	select {
	case decision = <-decisionCh:
	case <-ctx.Done():
		return
	}
	s.setTurnStatus(turn, schema.TurnRunning)

	resolved, _ := s.queue.get(snapshot.ID)
	s.notifyProposal(turn.userID, schema.ProposalNoticeResolved, resolved)
	approved := decision == schema.DecisionApprove && resolved.Status == schema.ProposalApplied
	if err := handle.Approve(ctx, callID, approved); err != nil && s.log != nil {
		s.log.Warn("approval answer failed", "turn", turn.id, "proposal", snapshot.ID, "err", err)
	}
}

func (s *service) resolveProposal(userID schema.UserID, id schema.ProposalID, token schema.ApprovalToken, decision schema.ApprovalDecision) (schema.ProposalSnapshot, bool, string, error) {
	before, _ := s.queue.get(id)
	snapshot, ok, message, err := s.queue.resolve(id, token, decision)
	if err != nil {
		return schema.ProposalSnapshot{}, false, "", err
	}
	if before.Status == schema.ProposalPending && snapshot.Status != schema.ProposalPending {
		s.notifyProposal(userID, schema.ProposalNoticeResolved, snapshot)
	}
	return snapshot, ok, message, nil
}

func (s *service) setTurnStatus(turn *turnState, status schema.TurnStatus) {
	s.mu.Lock()
	if turn.finishedAt != nil {
		s.mu.Unlock()
		return
	}
	turn.status = status
	s.mu.Unlock()
	s.notifyTurn(schema.TurnNoticeStatus, turn)
}

func (s *service) notifyTurn(noticeType schema.TurnNoticeType, turn *turnState) {
	if s.deps.EventSink == nil {
		return
	}
	s.mu.Lock()
	snapshot := turnSnapshotLocked(turn)
	userID := turn.userID
	s.mu.Unlock()
	s.deps.EventSink.OnTurnNotice(schema.TurnNotice{UserID: userID, Type: noticeType, Turn: snapshot})
}

func (s *service) notifyProposal(userID schema.UserID, noticeType schema.ProposalNoticeType, snapshot schema.ProposalSnapshot) {
	if s.deps.EventSink == nil {
		return
	}
	s.deps.EventSink.OnProposalNotice(schema.ProposalNotice{UserID: userID, Type: noticeType, Proposal: snapshot})
}

func (s *service) audit(message string, kv ...any) {
	if s.cfg.DisableAuditLogging || s.log == nil {
		return
	}
	s.log.Debug(message, kv...)
}

// maybeSweep reclaims finished turn ledgers past their retention. Runs
// opportunistically from request paths instead of a background loop.
func (s *service) maybeSweep() {
	s.mu.Lock()
	if time.Since(s.lastSweep) < sweepInterval {
		s.mu.Unlock()
		return
	}
	s.lastSweep = time.Now()
	s.mu.Unlock()

	removed := s.ledger.sweep(s.cfg.LedgerRetention)
	if len(removed) == 0 {
		return
	}
	s.mu.Lock()
	for _, id := range removed {
		delete(s.turns, id)
	}
	kept := s.turnOrder[:0]
	for _, id := range s.turnOrder {
		if _, ok := s.turns[id]; ok {
			kept = append(kept, id)
		}
	}
	s.turnOrder = kept
	s.mu.Unlock()
	if s.log != nil {
		s.log.Debug("turn ledgers swept", "removed", len(removed))
	}
}

func turnSnapshotLocked(turn *turnState) schema.TurnSnapshot {
	return schema.TurnSnapshot{
		ID:         turn.id,
		Status:     turn.status,
		Transport:  turn.transport,
		Domain:     turn.domain,
		LoopID:     turn.loopID,
		ScopeRoots: append([]string(nil), turn.scopeRoots...),
		StartedAt:  turn.startedAt,
		FinishedAt: turn.finishedAt,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
