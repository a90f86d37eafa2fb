package schema

// UserID identifies a user in the system.
type UserID string

// LoopID identifies a loop (an active workspace a turn runs against).
type LoopID string

// Domain identifies a workspace domain grouping one or more loops.
type Domain string

// TurnID identifies a single agent turn.
type TurnID string

// ProposalID identifies a change proposal.
type ProposalID string

// SessionID identifies a terminal session.
type SessionID string

// ProfileID selects a terminal profile (shell, agent CLI, ...).
type ProfileID string

// ApprovalToken is the single-use credential pairing a proposal with the
// decision that resolves it.
type ApprovalToken string

// ScopeOverrideToken widens the filesystem roots a turn may touch.
type ScopeOverrideToken string

// TransportKind selects how the agent is driven.
type TransportKind string

const (
	// TransportAppServer is the persistent bidirectional app-server protocol.
	TransportAppServer TransportKind = "app-server"
	// TransportExec is the one-shot subprocess fallback.
	TransportExec TransportKind = "exec"
)

// TrustMode is the queue-wide policy for resolving proposals.
type TrustMode string

const (
	// TrustRequireApproval requires a human decision per proposal.
	TrustRequireApproval TrustMode = "require-approval"
	// TrustAutoApproveAll applies new proposals without a human decision.
	TrustAutoApproveAll TrustMode = "auto-approve-all"
)

// TurnStatus describes the state of a turn.
type TurnStatus string

const (
	// TurnRunning indicates the turn is executing.
	TurnRunning TurnStatus = "running"
	// TurnWaitingApproval indicates the turn is suspended on a decision.
	TurnWaitingApproval TurnStatus = "waiting-approval"
	// TurnFinished indicates the turn completed.
	TurnFinished TurnStatus = "finished"
	// TurnFailed indicates the turn failed.
	TurnFailed TurnStatus = "failed"
)

// ProposalStatus describes the state of a proposal.
type ProposalStatus string

const (
	// ProposalPending awaits a decision.
	ProposalPending ProposalStatus = "pending"
	// ProposalApplied was approved and written to disk.
	ProposalApplied ProposalStatus = "applied"
	// ProposalRejected was declined.
	ProposalRejected ProposalStatus = "rejected"
	// ProposalFailed could not be applied.
	ProposalFailed ProposalStatus = "failed"
)

// ApprovalDecision is the outcome requested for a pending approval.
type ApprovalDecision string

const (
	// DecisionApprove applies the proposal.
	DecisionApprove ApprovalDecision = "approve"
	// DecisionReject declines the proposal.
	DecisionReject ApprovalDecision = "reject"
)

// Message is one entry of prior conversation context passed to a turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
