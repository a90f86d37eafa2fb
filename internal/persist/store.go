package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

// ProposalRecord captures one proposal for persistence. The raw diff is
// stored encrypted (see internal/secrets); file contents ride along in
// the clear inside the same record only when no cipher is configured.
type ProposalRecord struct {
	ID           schema.ProposalID     `json:"id"`
	TurnID       schema.TurnID         `json:"turn_id,omitempty"`
	EditorTarget string                `json:"editor_target,omitempty"`
	LoopID       schema.LoopID         `json:"loop_id"`
	Kind         string                `json:"kind,omitempty"`
	Summary      string                `json:"summary,omitempty"`
	Files        []schema.ProposedFile `json:"files,omitempty"`
	Diff         string                `json:"diff,omitempty"`
	DiffCipher   []byte                `json:"diff_cipher,omitempty"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
	ScopeRoots   []string              `json:"scope_roots,omitempty"`
	Status       schema.ProposalStatus `json:"status"`
	CreatedAt    time.Time             `json:"created_at"`
	ResolvedAt   *time.Time            `json:"resolved_at,omitempty"`
	Token        schema.ApprovalToken  `json:"approval_token,omitempty"`
}

// QueueSnapshot captures a loop's proposal queue for persistence.
type QueueSnapshot struct {
	TrustMode     schema.TrustMode `json:"trust_mode"`
	LastAutoApply *time.Time       `json:"last_auto_apply,omitempty"`
	Proposals     []ProposalRecord `json:"proposals"`
}

// Store persists loop queue snapshots to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// LoadQueue reads a loop's queue snapshot from disk.
func (s *Store) LoadQueue(loopID schema.LoopID) (QueueSnapshot, bool, error) {
	path := s.pathForLoop(loopID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("queue load miss", "loop", loopID)
			}
			return QueueSnapshot{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("queue load failed", "loop", loopID, "err", err)
		}
		return QueueSnapshot{}, false, err
	}
	var snapshot QueueSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		if s.log != nil {
			s.log.Warn("queue load failed", "loop", loopID, "err", err)
		}
		return QueueSnapshot{}, false, err
	}
	if s.log != nil {
		s.log.Debug("queue load ok", "loop", loopID, "proposals", len(snapshot.Proposals))
	}
	return snapshot, true, nil
}

// SaveQueue writes a loop's queue snapshot to disk atomically.
func (s *Store) SaveQueue(loopID schema.LoopID, snapshot QueueSnapshot) error {
	path := s.pathForLoop(loopID)
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		if s.log != nil {
			s.log.Warn("queue save failed", "loop", loopID, "err", err)
		}
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		if s.log != nil {
			s.log.Warn("queue save failed", "loop", loopID, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("queue save ok", "loop", loopID, "proposals", len(snapshot.Proposals))
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "queue-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) pathForLoop(loopID schema.LoopID) string {
	name := sanitize(string(loopID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, "queue-"+name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
