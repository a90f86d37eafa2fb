package steward

import (
	"pkt.systems/steward/core"
	"pkt.systems/steward/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnTurnNotice(notice schema.TurnNotice) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTurnNotice(notice)
	}
}

func (f eventFanout) OnProposalNotice(notice schema.ProposalNotice) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnProposalNotice(notice)
	}
}

func (f eventFanout) OnSessionNotice(notice schema.SessionNotice) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSessionNotice(notice)
	}
}
