package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/steward/internal/persist"
	"pkt.systems/steward/internal/secrets"
	"pkt.systems/steward/schema"
)

// proposal is the queue's full record of one change request, diff
// payload included. Snapshots handed to callers carry file paths only.
type proposal struct {
	id           schema.ProposalID
	turnID       schema.TurnID
	editorTarget string
	loopID       schema.LoopID
	kind         string
	summary      string
	files        []schema.ProposedFile
	diff         string
	metadata     map[string]string
	scopeRoots   []string
	status       schema.ProposalStatus
	createdAt    time.Time
	resolvedAt   *time.Time
	token        schema.ApprovalToken
}

type proposalInput struct {
	TurnID       schema.TurnID
	LoopID       schema.LoopID
	EditorTarget string
	Kind         string
	Summary      string
	Files        []schema.ProposedFile
	Diff         string
	Metadata     map[string]string
	ScopeRoots   []string
}

// proposalQueue owns proposal lifecycle and the trust policy. Queues are
// loaded lazily per loop from the persistent store; the diff payload is
// sealed by the vault before it touches disk.
type proposalQueue struct {
	mu           sync.Mutex
	byID         map[schema.ProposalID]*proposal
	order        []schema.ProposalID
	byToken      map[schema.ApprovalToken]schema.ProposalID
	waiters      map[schema.ApprovalToken]chan schema.ApprovalDecision
	trust        map[schema.LoopID]schema.TrustMode
	lastAuto     map[schema.LoopID]time.Time
	loaded       map[schema.LoopID]bool
	defaultTrust schema.TrustMode
	store        *persist.Store
	vault        *secrets.Vault
	log          pslog.Logger
}

func newProposalQueue(defaultTrust schema.TrustMode, store *persist.Store, vault *secrets.Vault, logger pslog.Logger) *proposalQueue {
	if defaultTrust == "" {
		defaultTrust = schema.TrustRequireApproval
	}
	return &proposalQueue{
		byID:         make(map[schema.ProposalID]*proposal),
		byToken:      make(map[schema.ApprovalToken]schema.ProposalID),
		waiters:      make(map[schema.ApprovalToken]chan schema.ApprovalDecision),
		trust:        make(map[schema.LoopID]schema.TrustMode),
		lastAuto:     make(map[schema.LoopID]time.Time),
		loaded:       make(map[schema.LoopID]bool),
		defaultTrust: defaultTrust,
		store:        store,
		vault:        vault,
		log:          logger,
	}
}

// create registers a pending proposal and returns its snapshot, the
// single-use approval token, and the trust mode sampled at creation.
// The sampled mode governs this proposal regardless of later switches.
func (q *proposalQueue) create(in proposalInput) (schema.ProposalSnapshot, schema.ApprovalToken, schema.TrustMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureLoadedLocked(in.LoopID)
	p := &proposal{
		id:           schema.ProposalID(newID()),
		turnID:       in.TurnID,
		editorTarget: in.EditorTarget,
		loopID:       in.LoopID,
		kind:         in.Kind,
		summary:      in.Summary,
		files:        append([]schema.ProposedFile(nil), in.Files...),
		diff:         in.Diff,
		metadata:     in.Metadata,
		scopeRoots:   append([]string(nil), in.ScopeRoots...),
		status:       schema.ProposalPending,
		createdAt:    time.Now(),
		token:        schema.ApprovalToken(newID()),
	}
	q.byID[p.id] = p
	q.order = append(q.order, p.id)
	q.byToken[p.token] = p.id
	trust := q.trustLocked(p.loopID)
	q.persistLoopLocked(p.loopID)
	if q.log != nil {
		q.log.Info("proposal created", "proposal", p.id, "turn", p.turnID, "loop", p.loopID, "files", len(p.files))
	}
	return q.snapshotLocked(p), p.token, trust
}

// trustMode returns the active trust mode for a loop.
func (q *proposalQueue) trustMode(loopID schema.LoopID) schema.TrustMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureLoadedLocked(loopID)
	return q.trustLocked(loopID)
}

// setTrustMode switches the loop policy. Pending proposals keep the
// mode sampled when they were created.
func (q *proposalQueue) setTrustMode(loopID schema.LoopID, mode schema.TrustMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureLoadedLocked(loopID)
	q.trust[loopID] = mode
	q.persistLoopLocked(loopID)
	if q.log != nil {
		q.log.Info("trust mode set", "loop", loopID, "mode", mode)
	}
}

func (q *proposalQueue) markAutoApply(loopID schema.LoopID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastAuto[loopID] = time.Now()
	q.persistLoopLocked(loopID)
}

// list returns the loop's proposals in creation order plus queue state.
func (q *proposalQueue) list(loopID schema.LoopID) ([]schema.ProposalSnapshot, int, schema.TrustMode, *time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureLoadedLocked(loopID)
	var out []schema.ProposalSnapshot
	pending := 0
	for _, id := range q.order {
		p := q.byID[id]
		if p == nil || p.loopID != loopID {
			continue
		}
		out = append(out, q.snapshotLocked(p))
		if p.status == schema.ProposalPending {
			pending++
		}
	}
	var lastAuto *time.Time
	if at, ok := q.lastAuto[loopID]; ok {
		copied := at
		lastAuto = &copied
	}
	return out, pending, q.trustLocked(loopID), lastAuto
}

func (q *proposalQueue) get(id schema.ProposalID) (schema.ProposalSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.byID[id]
	if p == nil {
		return schema.ProposalSnapshot{}, false
	}
	return q.snapshotLocked(p), true
}

// diff returns the raw unified diff payload of a proposal.
func (q *proposalQueue) diff(id schema.ProposalID) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.byID[id]
	if p == nil {
		return "", false
	}
	return p.diff, true
}

// byApprovalToken resolves a token to its proposal id. The mapping
// survives resolution so a replayed token reads the terminal state, but
// a resolved proposal cannot be re-resolved through it.
func (q *proposalQueue) byApprovalToken(token schema.ApprovalToken) (schema.ProposalID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.byToken[token]
	return id, ok
}

// registerWaiter attaches a decision channel to a token so a suspended
// turn can block on the outcome. Buffered so resolve never blocks.
func (q *proposalQueue) registerWaiter(token schema.ApprovalToken) <-chan schema.ApprovalDecision {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan schema.ApprovalDecision, 1)
	q.waiters[token] = ch
	return ch
}

func (q *proposalQueue) dropWaiter(token schema.ApprovalToken) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.waiters, token)
}

// resolve decides a proposal. Approving a pending proposal writes the
// proposed files to disk under the scope roots; a scope or write failure
// marks the proposal failed. Re-applying an applied proposal and
// rejecting an already resolved one are idempotent no-ops; approving a
// rejected or failed proposal is refused.
func (q *proposalQueue) resolve(id schema.ProposalID, token schema.ApprovalToken, decision schema.ApprovalDecision) (schema.ProposalSnapshot, bool, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.byID[id]
	if p == nil {
		return schema.ProposalSnapshot{}, false, "", schema.ErrProposalNotFound
	}
	if token != "" && token != p.token {
		return q.snapshotLocked(p), false, "approval token does not match proposal", nil
	}

	switch {
	case p.status == schema.ProposalPending:
		// fall through to resolution below
	case decision == schema.DecisionReject:
		return q.snapshotLocked(p), true, "proposal already resolved", nil
	case p.status == schema.ProposalApplied:
		return q.snapshotLocked(p), true, "proposal already applied", nil
	default:
		return q.snapshotLocked(p), false, fmt.Sprintf("proposal is %s and cannot be applied", p.status), nil
	}

	message := ""
	if decision == schema.DecisionApprove {
		if err := applyFiles(p.files, p.scopeRoots); err != nil {
			p.status = schema.ProposalFailed
			message = err.Error()
			if q.log != nil {
				q.log.Warn("proposal apply failed", "proposal", p.id, "loop", p.loopID, "err", err)
			}
		} else {
			p.status = schema.ProposalApplied
			if q.log != nil {
				q.log.Info("proposal applied", "proposal", p.id, "loop", p.loopID, "files", len(p.files))
			}
		}
	} else {
		p.status = schema.ProposalRejected
		if q.log != nil {
			q.log.Info("proposal rejected", "proposal", p.id, "loop", p.loopID)
		}
	}
	now := time.Now()
	p.resolvedAt = &now
	if waiter, ok := q.waiters[p.token]; ok {
		delete(q.waiters, p.token)
		select {
		case waiter <- decision:
		default:
		}
	}
	q.persistLoopLocked(p.loopID)
	return q.snapshotLocked(p), p.status != schema.ProposalFailed, message, nil
}

// applyFiles writes the proposed post-states to disk. Relative paths
// resolve against the first scope root; every path must land inside one
// of the roots.
func applyFiles(files []schema.ProposedFile, roots []string) error {
	if len(roots) == 0 {
		return fmt.Errorf("no scope roots: %w", schema.ErrScopeDenied)
	}
	for _, file := range files {
		path := file.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(roots[0], path)
		}
		path = filepath.Clean(path)
		if !PathWithinRoots(path, roots) {
			return fmt.Errorf("%s outside scope roots: %w", file.Path, schema.ErrScopeDenied)
		}
		if file.Delete {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", file.Path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("write %s: %w", file.Path, err)
		}
		if err := os.WriteFile(path, []byte(file.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", file.Path, err)
		}
	}
	return nil
}

func (q *proposalQueue) trustLocked(loopID schema.LoopID) schema.TrustMode {
	if mode, ok := q.trust[loopID]; ok {
		return mode
	}
	return q.defaultTrust
}

func (q *proposalQueue) snapshotLocked(p *proposal) schema.ProposalSnapshot {
	paths := make([]string, 0, len(p.files))
	for _, file := range p.files {
		paths = append(paths, file.Path)
	}
	return schema.ProposalSnapshot{
		ID:           p.id,
		TurnID:       p.turnID,
		EditorTarget: p.editorTarget,
		LoopID:       p.loopID,
		Kind:         p.kind,
		Summary:      p.summary,
		Files:        paths,
		Metadata:     p.metadata,
		Status:       p.status,
		CreatedAt:    p.createdAt,
		ResolvedAt:   p.resolvedAt,
	}
}

func (q *proposalQueue) ensureLoadedLocked(loopID schema.LoopID) {
	if q.store == nil || q.loaded[loopID] {
		return
	}
	q.loaded[loopID] = true
	snapshot, ok, err := q.store.LoadQueue(loopID)
	if err != nil || !ok {
		return
	}
	if snapshot.TrustMode != "" {
		q.trust[loopID] = snapshot.TrustMode
	}
	if snapshot.LastAutoApply != nil {
		q.lastAuto[loopID] = *snapshot.LastAutoApply
	}
	for _, record := range snapshot.Proposals {
		if _, exists := q.byID[record.ID]; exists {
			continue
		}
		diff := record.Diff
		if len(record.DiffCipher) > 0 && q.vault != nil {
			plain, err := q.vault.Open(loopID, record.DiffCipher)
			if err != nil {
				if q.log != nil {
					q.log.Warn("proposal diff unseal failed", "proposal", record.ID, "loop", loopID, "err", err)
				}
			} else {
				diff = string(plain)
			}
		}
		p := &proposal{
			id:           record.ID,
			turnID:       record.TurnID,
			editorTarget: record.EditorTarget,
			loopID:       record.LoopID,
			kind:         record.Kind,
			summary:      record.Summary,
			files:        record.Files,
			diff:         diff,
			metadata:     record.Metadata,
			scopeRoots:   record.ScopeRoots,
			status:       record.Status,
			createdAt:    record.CreatedAt,
			resolvedAt:   record.ResolvedAt,
			token:        record.Token,
		}
		q.byID[p.id] = p
		q.order = append(q.order, p.id)
		if p.status == schema.ProposalPending && p.token != "" {
			q.byToken[p.token] = p.id
		}
	}
}

func (q *proposalQueue) persistLoopLocked(loopID schema.LoopID) {
	if q.store == nil {
		return
	}
	snapshot := persist.QueueSnapshot{TrustMode: q.trustLocked(loopID)}
	if at, ok := q.lastAuto[loopID]; ok {
		copied := at
		snapshot.LastAutoApply = &copied
	}
	for _, id := range q.order {
		p := q.byID[id]
		if p == nil || p.loopID != loopID {
			continue
		}
		record := persist.ProposalRecord{
			ID:           p.id,
			TurnID:       p.turnID,
			EditorTarget: p.editorTarget,
			LoopID:       p.loopID,
			Kind:         p.kind,
			Summary:      p.summary,
			Files:        p.files,
			Metadata:     p.metadata,
			ScopeRoots:   p.scopeRoots,
			Status:       p.status,
			CreatedAt:    p.createdAt,
			ResolvedAt:   p.resolvedAt,
			Token:        p.token,
		}
		if q.vault != nil && p.diff != "" {
			cipher, err := q.vault.Seal(loopID, []byte(p.diff))
			if err != nil {
				if q.log != nil {
					q.log.Warn("proposal diff seal failed", "proposal", p.id, "loop", loopID, "err", err)
				}
				record.Diff = p.diff
			} else {
				record.DiffCipher = cipher
			}
		} else {
			record.Diff = p.diff
		}
		snapshot.Proposals = append(snapshot.Proposals, record)
	}
	if err := q.store.SaveQueue(loopID, snapshot); err != nil && q.log != nil {
		q.log.Warn("queue persist failed", "loop", loopID, "err", err)
	}
}
