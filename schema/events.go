package schema

import (
	"encoding/json"
	"time"
)

// AgentEventType is the top-level type emitted by the agent transport stream.
type AgentEventType string

const (
	// AgentEventStarted indicates the agent accepted the turn.
	AgentEventStarted AgentEventType = "turn.started"
	// AgentEventDelta carries incremental assistant output.
	AgentEventDelta AgentEventType = "turn.delta"
	// AgentEventProposal requests approval for a filesystem change.
	AgentEventProposal AgentEventType = "turn.proposal"
	// AgentEventCompleted indicates the turn completed successfully.
	AgentEventCompleted AgentEventType = "turn.completed"
	// AgentEventFailed indicates the turn failed.
	AgentEventFailed AgentEventType = "turn.failed"
	// AgentEventError indicates a stream-level error line.
	AgentEventError AgentEventType = "error"
)

// AgentEvent is the normalized event shape for agent transport streams.
type AgentEvent struct {
	Type     AgentEventType   `json:"type"`
	ID       string           `json:"id,omitempty"`
	Delta    string           `json:"delta,omitempty"`
	Proposal *ProposalPayload `json:"proposal,omitempty"`
	Message  string           `json:"message,omitempty"`
	Raw      json.RawMessage  `json:"-"`
}

// ProposedFile is the post-state of one file in a proposal.
type ProposedFile struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Delete  bool   `json:"delete,omitempty"`
}

// ProposalPayload is the change request carried by a turn.proposal event.
type ProposalPayload struct {
	EditorTarget string            `json:"editor_target,omitempty"`
	Kind         string            `json:"kind,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Files        []ProposedFile    `json:"files,omitempty"`
	Diff         string            `json:"diff,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TurnEventType discriminates ledger events.
type TurnEventType string

const (
	// TurnEventStart opens a turn's event sequence.
	TurnEventStart TurnEventType = "start"
	// TurnEventTextDelta carries incremental output.
	TurnEventTextDelta TurnEventType = "text-delta"
	// TurnEventApprovalRequest suspends the turn on a decision.
	TurnEventApprovalRequest TurnEventType = "approval-request"
	// TurnEventFinished closes a turn's event sequence.
	TurnEventFinished TurnEventType = "finished"
)

// FinishStatus reports how a turn ended.
type FinishStatus string

const (
	// FinishStop is a normal completion.
	FinishStop FinishStatus = "stop"
	// FinishFailed is an execution failure.
	FinishFailed FinishStatus = "failed"
)

// TurnEvent is one immutable entry in a turn's event ledger. Exactly the
// fields for the variant named by Type are set; translation to a wire
// format switches on Type exhaustively.
type TurnEvent struct {
	Type     TurnEventType     `json:"type"`
	TurnID   TurnID            `json:"turn_id"`
	DeltaID  string            `json:"delta_id,omitempty"`
	Delta    string            `json:"delta,omitempty"`
	Proposal *ProposalSnapshot `json:"proposal,omitempty"`
	Token    ApprovalToken     `json:"approval_token,omitempty"`
	Finish   FinishStatus      `json:"finish,omitempty"`
}

// Workspace-level sink events, fanned out to stream adapters.

// TurnNoticeType describes turn lifecycle changes.
type TurnNoticeType string

const (
	// TurnNoticeStarted indicates a turn started.
	TurnNoticeStarted TurnNoticeType = "started"
	// TurnNoticeStatus indicates a turn status change.
	TurnNoticeStatus TurnNoticeType = "status"
	// TurnNoticeFinished indicates a turn reached a terminal state.
	TurnNoticeFinished TurnNoticeType = "finished"
)

// TurnNotice reports a turn lifecycle change.
type TurnNotice struct {
	UserID UserID
	Type   TurnNoticeType
	Turn   TurnSnapshot
}

// ProposalNoticeType describes proposal lifecycle changes.
type ProposalNoticeType string

const (
	// ProposalNoticeCreated indicates a proposal was created.
	ProposalNoticeCreated ProposalNoticeType = "created"
	// ProposalNoticeResolved indicates a proposal was applied or rejected.
	ProposalNoticeResolved ProposalNoticeType = "resolved"
)

// ProposalNotice reports a proposal lifecycle change.
type ProposalNotice struct {
	UserID   UserID
	Type     ProposalNoticeType
	Proposal ProposalSnapshot
}

// SessionNoticeType describes terminal session lifecycle changes.
type SessionNoticeType string

const (
	// SessionNoticeStarted indicates a session started.
	SessionNoticeStarted SessionNoticeType = "started"
	// SessionNoticeExited indicates the backing process exited.
	SessionNoticeExited SessionNoticeType = "exited"
	// SessionNoticeStopped indicates a session was stopped explicitly.
	SessionNoticeStopped SessionNoticeType = "stopped"
)

// SessionNotice reports a terminal session lifecycle change.
type SessionNotice struct {
	UserID  UserID
	Type    SessionNoticeType
	Session TerminalSnapshot
	At      time.Time
}
