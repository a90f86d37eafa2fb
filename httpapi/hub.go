package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/steward/internal/logx"
	"pkt.systems/steward/schema"
)

// StreamEvent is sent to SSE clients on the workspace event stream.
type StreamEvent struct {
	Seq       uint64                   `json:"seq"`
	Type      string                   `json:"type"`
	Notice    string                   `json:"notice,omitempty"`
	Turn      *schema.TurnSnapshot     `json:"turn,omitempty"`
	Proposal  *schema.ProposalSnapshot `json:"proposal,omitempty"`
	Session   *schema.TerminalSnapshot `json:"session,omitempty"`
	Snapshot  *SnapshotPayload         `json:"snapshot,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Readiness     schema.ReadinessReport    `json:"readiness"`
	Sessions      []schema.TerminalSnapshot `json:"sessions"`
	ActiveSession schema.SessionID          `json:"active_session,omitempty"`
}

// Hub broadcasts workspace notices per user.
type Hub struct {
	mu          sync.Mutex
	users       map[schema.UserID]*userHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		users:       make(map[schema.UserID]*userHub),
		historySize: historySize,
	}
}

// OnTurnNotice implements core.EventSink.
func (h *Hub) OnTurnNotice(notice schema.TurnNotice) {
	log := logx.WithUser(context.Background(), notice.UserID).With("turn", notice.Turn.ID)
	log.Trace("hub turn notice", "notice", notice.Type, "status", notice.Turn.Status)
	turn := notice.Turn
	h.publish(notice.UserID, StreamEvent{
		Type:      "turn",
		Notice:    string(notice.Type),
		Turn:      &turn,
		Timestamp: time.Now(),
	})
}

// OnProposalNotice implements core.EventSink.
func (h *Hub) OnProposalNotice(notice schema.ProposalNotice) {
	log := logx.WithUser(context.Background(), notice.UserID).With("proposal", notice.Proposal.ID)
	log.Trace("hub proposal notice", "notice", notice.Type, "status", notice.Proposal.Status)
	proposal := notice.Proposal
	h.publish(notice.UserID, StreamEvent{
		Type:      "proposal",
		Notice:    string(notice.Type),
		Proposal:  &proposal,
		Timestamp: time.Now(),
	})
}

// OnSessionNotice implements core.EventSink.
func (h *Hub) OnSessionNotice(notice schema.SessionNotice) {
	log := logx.WithUser(context.Background(), notice.UserID).With("session", notice.Session.ID)
	log.Trace("hub session notice", "notice", notice.Type)
	session := notice.Session
	h.publish(notice.UserID, StreamEvent{
		Type:      "session",
		Notice:    string(notice.Type),
		Session:   &session,
		Timestamp: time.Now(),
	})
}

// Subscribe registers a subscriber for a user.
func (h *Hub) Subscribe(userID schema.UserID) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.getOrCreateUserHubLocked(userID)
	ch := make(chan StreamEvent, 256)
	uh.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), uh.history...)
	seq := uh.seq
	log := logx.WithUser(context.Background(), userID)
	log.Info("hub subscribe", "subs", len(uh.subs), "history", len(history))
	unsub := func() {
		h.mu.Lock()
		delete(uh.subs, ch)
		close(ch)
		remaining := len(uh.subs)
		h.mu.Unlock()
		log.Info("hub unsubscribe", "subs", remaining)
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(userID schema.UserID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.users[userID]
	if uh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(uh.history))
	for _, event := range uh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithUser(context.Background(), userID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(userID schema.UserID, event StreamEvent) {
	h.mu.Lock()
	uh := h.getOrCreateUserHubLocked(userID)
	uh.seq++
	event.Seq = uh.seq
	uh.history = append(uh.history, event)
	if len(uh.history) > h.historySize {
		uh.history = uh.history[len(uh.history)-h.historySize:]
	}
	// Delivery stays under the lock so an unsubscribe cannot close a
	// channel between the snapshot and the send. Sends are non-blocking,
	// a full subscriber just drops the event.
	dropped := 0
	for sub := range uh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		logx.WithUser(context.Background(), userID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateUserHubLocked(userID schema.UserID) *userHub {
	uh := h.users[userID]
	if uh == nil {
		uh = &userHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.users[userID] = uh
	}
	return uh
}

type userHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
