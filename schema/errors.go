package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUser indicates an invalid user identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidLoop indicates an invalid loop identifier.
	ErrInvalidLoop = errors.New("invalid loop")
	// ErrEmptyPrompt indicates the prompt was empty.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrTurnNotFound indicates a requested turn could not be found.
	ErrTurnNotFound = errors.New("turn not found")
	// ErrProposalNotFound indicates a requested proposal could not be found.
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrSessionNotFound indicates a requested terminal session could not be found.
	ErrSessionNotFound = errors.New("terminal session not found")
	// ErrApprovalNotFound indicates no pending approval matches the token.
	ErrApprovalNotFound = errors.New("approval not found")
	// ErrTransportUnavailable indicates no agent transport is reachable.
	ErrTransportUnavailable = errors.New("agent transport unavailable")
	// ErrScopeDenied indicates a path falls outside the allowed scope roots.
	ErrScopeDenied = errors.New("path outside allowed scope")
	// ErrInvalidTrustMode indicates an unknown trust mode value.
	ErrInvalidTrustMode = errors.New("invalid trust mode")
)
