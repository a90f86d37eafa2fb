package core

import (
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

// Depth of each subscriber channel. A subscriber that falls this far
// behind starts losing events; drops are counted and logged.
const ledgerSubDepth = 256

// ledgerStore holds the per-turn append-only event ledgers. Append,
// snapshot, and subscribe are serialized per store so a snapshot
// followed by a subscribe under one lock observes every event exactly
// once.
type ledgerStore struct {
	mu      sync.Mutex
	ledgers map[schema.TurnID]*turnLedger
	logger  pslog.Logger
}

type turnLedger struct {
	events     []schema.TurnEvent
	subs       map[int]*ledgerSub
	nextSub    int
	finished   bool
	finishedAt time.Time
}

type ledgerSub struct {
	ch      chan schema.TurnEvent
	dropped int
}

func newLedgerStore(logger pslog.Logger) *ledgerStore {
	return &ledgerStore{
		ledgers: make(map[schema.TurnID]*turnLedger),
		logger:  logger,
	}
}

func (s *ledgerStore) ensure(turnID schema.TurnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgers[turnID] == nil {
		s.ledgers[turnID] = &turnLedger{subs: make(map[int]*ledgerSub)}
	}
}

// append adds one event and fans it out. A finished event marks the
// ledger terminal and closes every subscriber channel.
func (s *ledgerStore) append(turnID schema.TurnID, event schema.TurnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.ledgers[turnID]
	if ledger == nil {
		ledger = &turnLedger{subs: make(map[int]*ledgerSub)}
		s.ledgers[turnID] = ledger
	}
	if ledger.finished {
		if s.logger != nil {
			s.logger.Warn("ledger append after finish dropped", "turn", turnID, "type", event.Type)
		}
		return
	}
	ledger.events = append(ledger.events, event)
	for id, sub := range ledger.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			if s.logger != nil {
				s.logger.Warn("ledger subscriber lagging", "turn", turnID, "sub", id, "dropped", sub.dropped)
			}
		}
	}
	if event.Type == schema.TurnEventFinished {
		ledger.finished = true
		ledger.finishedAt = time.Now()
		for _, sub := range ledger.subs {
			close(sub.ch)
		}
		ledger.subs = make(map[int]*ledgerSub)
	}
}

// snapshot returns all events appended so far, in order.
func (s *ledgerStore) snapshot(turnID schema.TurnID) ([]schema.TurnEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.ledgers[turnID]
	if ledger == nil {
		return nil, false
	}
	return append([]schema.TurnEvent(nil), ledger.events...), true
}

// subscribe registers for future events. A finished turn yields no
// subscription; the caller relies on the snapshot alone.
func (s *ledgerStore) subscribe(turnID schema.TurnID) (<-chan schema.TurnEvent, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.ledgers[turnID]
	if ledger == nil {
		return nil, nil, false
	}
	if ledger.finished {
		return nil, nil, true
	}
	ch, cancel := s.addSubLocked(turnID, ledger)
	return ch, cancel, true
}

// watch atomically snapshots and subscribes, guaranteeing the caller
// sees every event exactly once across replay plus live channel.
func (s *ledgerStore) watch(turnID schema.TurnID) ([]schema.TurnEvent, <-chan schema.TurnEvent, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.ledgers[turnID]
	if ledger == nil {
		return nil, nil, nil, false
	}
	replay := append([]schema.TurnEvent(nil), ledger.events...)
	if ledger.finished {
		return replay, nil, func() {}, true
	}
	ch, cancel := s.addSubLocked(turnID, ledger)
	return replay, ch, cancel, true
}

func (s *ledgerStore) addSubLocked(turnID schema.TurnID, ledger *turnLedger) (chan schema.TurnEvent, func()) {
	id := ledger.nextSub
	ledger.nextSub++
	sub := &ledgerSub{ch: make(chan schema.TurnEvent, ledgerSubDepth)}
	ledger.subs[id] = sub
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			current := s.ledgers[turnID]
			if current == nil {
				return
			}
			if existing, ok := current.subs[id]; ok && existing == sub {
				delete(current.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// sweep drops finished ledgers older than maxAge and returns the ids
// removed so the caller can drop its own records.
func (s *ledgerStore) sweep(maxAge time.Duration) []schema.TurnID {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []schema.TurnID
	for id, ledger := range s.ledgers {
		if ledger.finished && ledger.finishedAt.Before(cutoff) {
			delete(s.ledgers, id)
			removed = append(removed, id)
		}
	}
	return removed
}
