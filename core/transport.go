package core

import (
	"context"
	"fmt"

	"pkt.systems/steward/schema"
)

// Transport drives the agent for one turn and reports its own health.
type Transport interface {
	Kind() schema.TransportKind
	Readiness(ctx context.Context) (schema.ReadinessReport, error)
	Run(ctx context.Context, req TurnRunRequest) (TurnHandle, error)
}

// TurnRunRequest describes one agent invocation.
type TurnRunRequest struct {
	Prompt       string
	Messages     []schema.Message
	SystemPrompt string
	Model        string
	WorkingDir   string
	ScopeRoots   []string
}

// TurnHandle exposes the event stream and lifecycle controls of a
// running turn.
type TurnHandle interface {
	Events() EventStream
	// Approve answers a pending turn.proposal event. CallID is the ID the
	// transport attached to that event.
	Approve(ctx context.Context, callID string, approved bool) error
	Wait(ctx context.Context) (TurnResult, error)
	Close() error
}

// EventStream yields normalized agent events.
type EventStream interface {
	Next(ctx context.Context) (schema.AgentEvent, error)
	Close() error
}

// TurnResult describes the transport-level outcome.
type TurnResult struct {
	ExitCode int
}

// TransportErrorKind classifies transport failures for user-facing hints.
type TransportErrorKind string

const (
	// TransportErrorUnknown is an uncategorized transport failure.
	TransportErrorUnknown TransportErrorKind = "unknown"
	// TransportErrorUnavailable indicates the transport is unreachable.
	TransportErrorUnavailable TransportErrorKind = "unavailable"
	// TransportErrorUnauthorized indicates the agent is not logged in.
	TransportErrorUnauthorized TransportErrorKind = "unauthorized"
	// TransportErrorTimeout indicates the transport timed out.
	TransportErrorTimeout TransportErrorKind = "timeout"
	// TransportErrorCanceled indicates the request was canceled.
	TransportErrorCanceled TransportErrorKind = "canceled"
	// TransportErrorProtocol indicates a malformed wire exchange.
	TransportErrorProtocol TransportErrorKind = "protocol"
	// TransportErrorExec indicates the subprocess failed to start.
	TransportErrorExec TransportErrorKind = "exec"
)

// TransportError wraps transport failures with a stable classification.
type TransportError struct {
	Kind    TransportErrorKind
	Op      string
	Message string
	Err     error
}

// NewTransportError constructs a classified transport error.
func NewTransportError(kind TransportErrorKind, op string, err error) *TransportError {
	return &TransportError{Kind: kind, Op: op, Err: err}
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return "transport error"
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
