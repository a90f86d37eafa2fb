package schema

import "time"

// TurnSnapshot is a read-only view of turn state for transports.
type TurnSnapshot struct {
	ID         TurnID        `json:"id"`
	Status     TurnStatus    `json:"status"`
	Transport  TransportKind `json:"transport"`
	Domain     Domain        `json:"domain"`
	LoopID     LoopID        `json:"loop_id"`
	ScopeRoots []string      `json:"scope_roots,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// ProposalSnapshot is a read-only view of a proposal for transports. The
// diff payload and file contents stay inside the queue; viewers fetch
// diff views on demand.
type ProposalSnapshot struct {
	ID           ProposalID        `json:"id"`
	TurnID       TurnID            `json:"turn_id,omitempty"`
	EditorTarget string            `json:"editor_target,omitempty"`
	LoopID       LoopID            `json:"loop_id"`
	Kind         string            `json:"kind,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Files        []string          `json:"files,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Status       ProposalStatus    `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`
}

// DiffFileStatus classifies a file within a unified diff.
type DiffFileStatus string

const (
	// DiffFileAdded marks a newly created file.
	DiffFileAdded DiffFileStatus = "added"
	// DiffFileDeleted marks a removed file.
	DiffFileDeleted DiffFileStatus = "deleted"
	// DiffFileModified marks an edited file.
	DiffFileModified DiffFileStatus = "modified"
	// DiffFileUnknown marks a header that could not be classified.
	DiffFileUnknown DiffFileStatus = "unknown"
)

// DiffFileSummary is the derived per-file view of a proposal's diff.
type DiffFileSummary struct {
	Path      string         `json:"path"`
	Status    DiffFileStatus `json:"status"`
	Additions int            `json:"additions"`
	Deletions int            `json:"deletions"`
	HasPatch  bool           `json:"has_patch"`
}

// TerminalSnapshot is a read-only view of a terminal session.
type TerminalSnapshot struct {
	ID             SessionID `json:"id"`
	Name           string    `json:"name,omitempty"`
	Profile        ProfileID `json:"profile"`
	PID            int       `json:"pid,omitempty"`
	Cwd            string    `json:"cwd"`
	Shell          string    `json:"shell,omitempty"`
	Running        bool      `json:"running"`
	Degraded       bool      `json:"degraded,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExitCode       *int      `json:"exit_code,omitempty"`
}

// ReadinessReport describes agent transport health.
type ReadinessReport struct {
	AppServer    bool   `json:"app_server"`
	LoggedIn     bool   `json:"logged_in"`
	CLIAvailable bool   `json:"cli_available"`
	Detail       string `json:"detail,omitempty"`
}
