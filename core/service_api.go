package core

import (
	"context"

	"pkt.systems/steward/schema"
)

// Service is the transport-agnostic API for managing turns, proposals,
// and terminal sessions.
type Service interface {
	StartTurn(ctx context.Context, req schema.StartTurnRequest) (schema.StartTurnResponse, error)
	GetTurn(ctx context.Context, req schema.GetTurnRequest) (schema.GetTurnResponse, error)
	ListTurns(ctx context.Context, req schema.ListTurnsRequest) (schema.ListTurnsResponse, error)
	WatchTurn(ctx context.Context, req schema.GetTurnRequest) (TurnWatch, error)
	ResolveApproval(ctx context.Context, req schema.ResolveApprovalRequest) (schema.ResolveApprovalResponse, error)

	ListProposals(ctx context.Context, req schema.ListProposalsRequest) (schema.ListProposalsResponse, error)
	ApplyProposal(ctx context.Context, req schema.ApplyProposalRequest) (schema.ApplyProposalResponse, error)
	RejectProposal(ctx context.Context, req schema.RejectProposalRequest) (schema.RejectProposalResponse, error)
	ProposalDiffFiles(ctx context.Context, req schema.ProposalDiffFilesRequest) (schema.ProposalDiffFilesResponse, error)
	ProposalDiffFile(ctx context.Context, req schema.ProposalDiffFileRequest) (schema.ProposalDiffFileResponse, error)
	SetTrustMode(ctx context.Context, req schema.SetTrustModeRequest) (schema.SetTrustModeResponse, error)

	StartTerminal(ctx context.Context, req schema.StartTerminalRequest) (schema.StartTerminalResponse, error)
	SendTerminalInput(ctx context.Context, req schema.SendTerminalInputRequest) error
	ResizeTerminal(ctx context.Context, req schema.ResizeTerminalRequest) error
	StopTerminal(ctx context.Context, req schema.StopTerminalRequest) (schema.StopTerminalResponse, error)
	ListTerminals(ctx context.Context, req schema.ListTerminalsRequest) (schema.ListTerminalsResponse, error)
	WatchTerminal(ctx context.Context, userID schema.UserID, id schema.SessionID) (<-chan schema.TerminalStreamEvent, func(), error)

	Readiness(ctx context.Context) schema.ReadinessReport
}

// TurnWatch is the atomic join view of one turn: the full replay so far
// plus a live channel for everything after it. A finished turn yields a
// nil Events channel; the replay is complete. Cancel releases the
// subscription and is safe to call more than once.
type TurnWatch struct {
	Turn   schema.TurnSnapshot
	Replay []schema.TurnEvent
	Events <-chan schema.TurnEvent
	Cancel func()
}
