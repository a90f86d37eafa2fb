package core

import (
	"context"

	"pkt.systems/steward/schema"
)

// TerminalManager owns interactive terminal sessions. The core service
// validates callers and delegates; session semantics (reuse, ring
// buffers, exit handling) live behind this interface.
type TerminalManager interface {
	Start(ctx context.Context, req schema.StartTerminalRequest) (schema.StartTerminalResponse, error)
	SendInput(ctx context.Context, req schema.SendTerminalInputRequest) error
	Resize(ctx context.Context, req schema.ResizeTerminalRequest) error
	Stop(ctx context.Context, req schema.StopTerminalRequest) (schema.StopTerminalResponse, error)
	List(ctx context.Context, req schema.ListTerminalsRequest) (schema.ListTerminalsResponse, error)
	Watch(ctx context.Context, userID schema.UserID, id schema.SessionID) (<-chan schema.TerminalStreamEvent, func(), error)
}
