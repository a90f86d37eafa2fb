package core

import "pkt.systems/steward/schema"

// EventSink receives workspace-level lifecycle notices from the core
// service, fanned out to the stream adapters.
type EventSink interface {
	OnTurnNotice(notice schema.TurnNotice)
	OnProposalNotice(notice schema.ProposalNotice)
	OnSessionNotice(notice schema.SessionNotice)
}
