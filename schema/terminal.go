package schema

// TerminalStreamEventType discriminates terminal stream events.
type TerminalStreamEventType string

const (
	// TerminalStreamSnapshot carries the buffered tail plus session state,
	// sent once on connect.
	TerminalStreamSnapshot TerminalStreamEventType = "snapshot"
	// TerminalStreamOutput carries an incremental output chunk.
	TerminalStreamOutput TerminalStreamEventType = "output"
	// TerminalStreamExit closes the stream with the process exit code.
	TerminalStreamExit TerminalStreamEventType = "exit"
)

// TerminalStreamEvent is one push-channel event for a terminal viewer.
type TerminalStreamEvent struct {
	Type     TerminalStreamEventType `json:"type"`
	Session  TerminalSnapshot        `json:"session"`
	Buffer   []byte                  `json:"buffer,omitempty"`
	Chunk    []byte                  `json:"chunk,omitempty"`
	ExitCode *int                    `json:"exit_code,omitempty"`
}
