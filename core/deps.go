package core

import (
	"pkt.systems/pslog"
	"pkt.systems/steward/internal/persist"
	"pkt.systems/steward/internal/planning"
	"pkt.systems/steward/internal/secrets"
	"pkt.systems/steward/internal/settings"
	"pkt.systems/steward/internal/workspace"
)

// ServiceDeps captures the collaborators of the core service. Transport
// is the preferred app-server backend; Fallback is the one-shot exec
// backend used when the caller allows degradation.
type ServiceDeps struct {
	Transport Transport
	Fallback  Transport
	Terminals TerminalManager
	Registry  *workspace.Registry
	Settings  *settings.Store
	Planning  *planning.Resolver
	Store     *persist.Store
	Vault     *secrets.Vault
	EventSink EventSink
	Logger    pslog.Logger
}
