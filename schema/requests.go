package schema

import "time"

// Turn lifecycle.

// StartTurnRequest describes a prompt submission that starts a turn.
type StartTurnRequest struct {
	UserID            UserID
	LoopID            LoopID
	Domain            Domain
	Prompt            string
	Messages          []Message
	EditorTarget      string
	ScopeOverride     ScopeOverrideToken
	AllowExecFallback bool
}

// StartTurnResponse reports turn acceptance. OK is false when the
// transport is unavailable and no fallback applies; Message then carries
// remediation text.
type StartTurnResponse struct {
	OK        bool
	TurnID    TurnID
	Message   string
	Readiness *ReadinessReport
}

// GetTurnRequest describes a turn lookup.
type GetTurnRequest struct {
	UserID UserID
	TurnID TurnID
}

// GetTurnResponse reports the turn snapshot.
type GetTurnResponse struct {
	Turn TurnSnapshot
}

// ListTurnsRequest describes a request to list turns for a loop.
type ListTurnsRequest struct {
	UserID UserID
	LoopID LoopID
}

// ListTurnsResponse reports known turns, newest first.
type ListTurnsResponse struct {
	Turns []TurnSnapshot
}

// ResolveApprovalRequest carries a decision for a pending approval.
type ResolveApprovalRequest struct {
	UserID   UserID
	Token    ApprovalToken
	Decision ApprovalDecision
}

// ResolveApprovalResponse reports the resolved proposal. A replayed
// token yields OK with the already-terminal proposal state.
type ResolveApprovalResponse struct {
	OK       bool
	Proposal ProposalSnapshot
	Message  string
}

// Proposal queue.

// ListProposalsRequest describes a request to list proposals for a loop.
type ListProposalsRequest struct {
	UserID UserID
	LoopID LoopID
}

// ListProposalsResponse reports proposals and queue-wide settings.
type ListProposalsResponse struct {
	Proposals     []ProposalSnapshot
	PendingCount  int
	TrustMode     TrustMode
	LastAutoApply *time.Time
}

// ApplyProposalRequest describes a request to apply a proposal.
type ApplyProposalRequest struct {
	UserID UserID
	ID     ProposalID
	Token  ApprovalToken
}

// ApplyProposalResponse reports the resolution outcome.
type ApplyProposalResponse struct {
	OK       bool
	Proposal ProposalSnapshot
	Message  string
}

// RejectProposalRequest describes a request to reject a proposal.
type RejectProposalRequest struct {
	UserID UserID
	ID     ProposalID
	Token  ApprovalToken
}

// RejectProposalResponse reports the resolution outcome.
type RejectProposalResponse struct {
	OK       bool
	Proposal ProposalSnapshot
	Message  string
}

// ProposalDiffFilesRequest asks for the per-file diff summary.
type ProposalDiffFilesRequest struct {
	UserID UserID
	ID     ProposalID
}

// ProposalDiffFilesResponse reports the derived per-file summaries.
type ProposalDiffFilesResponse struct {
	Files []DiffFileSummary
}

// ProposalDiffFileRequest asks for one file's unified patch.
type ProposalDiffFileRequest struct {
	UserID UserID
	ID     ProposalID
	Path   string
}

// ProposalDiffFileResponse reports one file's patch and counters.
type ProposalDiffFileResponse struct {
	UnifiedPatch string
	Additions    int
	Deletions    int
	HunkCount    int
}

// SetTrustModeRequest switches the queue-wide trust mode for a loop.
type SetTrustModeRequest struct {
	UserID UserID
	LoopID LoopID
	Mode   TrustMode
}

// SetTrustModeResponse reports the applied mode.
type SetTrustModeResponse struct {
	Mode TrustMode
}

// Terminal sessions.

// StartTerminalRequest describes a terminal session start.
type StartTerminalRequest struct {
	UserID    UserID
	Reuse     bool
	Cwd       string
	Command   string
	Args      []string
	Profile   ProfileID
	Name      string
	SetActive bool
}

// StartTerminalResponse reports the started (or reused) session.
type StartTerminalResponse struct {
	Reused  bool
	Session TerminalSnapshot
}

// SendTerminalInputRequest forwards viewer keystrokes to a session.
type SendTerminalInputRequest struct {
	UserID    UserID
	SessionID SessionID
	Data      string
}

// ResizeTerminalRequest resizes a session's PTY.
type ResizeTerminalRequest struct {
	UserID    UserID
	SessionID SessionID
	Cols      int
	Rows      int
}

// StopTerminalRequest stops a session's process.
type StopTerminalRequest struct {
	UserID    UserID
	SessionID SessionID
}

// StopTerminalResponse reports whether a process was actually stopped.
type StopTerminalResponse struct {
	Stopped bool
	Session TerminalSnapshot
}

// ListTerminalsRequest describes a request to list terminal sessions.
type ListTerminalsRequest struct {
	UserID UserID
}

// ListTerminalsResponse reports sessions and the active session id.
type ListTerminalsResponse struct {
	Sessions      []TerminalSnapshot
	ActiveSession SessionID
}
