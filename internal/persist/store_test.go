package persist

import (
	"testing"
	"time"

	"pkt.systems/steward/schema"
)

func TestLoadQueueMiss(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.LoadQueue("loop-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for unknown loop")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	resolved := time.Now().UTC().Truncate(time.Second)
	snapshot := QueueSnapshot{
		TrustMode: schema.TrustAutoApproveAll,
		Proposals: []ProposalRecord{
			{
				ID:         "p1",
				LoopID:     "loop-a",
				Summary:    "add readme",
				Status:     schema.ProposalApplied,
				CreatedAt:  resolved.Add(-time.Minute),
				ResolvedAt: &resolved,
				Files:      []schema.ProposedFile{{Path: "README.md", Content: "# hi"}},
			},
		},
	}
	if err := store.SaveQueue("loop-a", snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := store.LoadQueue("loop-a")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.TrustMode != schema.TrustAutoApproveAll {
		t.Fatalf("unexpected trust mode %q", loaded.TrustMode)
	}
	if len(loaded.Proposals) != 1 || loaded.Proposals[0].ID != "p1" {
		t.Fatalf("unexpected proposals: %+v", loaded.Proposals)
	}
	if loaded.Proposals[0].ResolvedAt == nil || !loaded.Proposals[0].ResolvedAt.Equal(resolved) {
		t.Fatalf("resolvedAt lost in round trip")
	}
}

func TestPathSanitization(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SaveQueue("../evil", QueueSnapshot{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := store.LoadQueue("../evil"); err != nil || !ok {
		t.Fatalf("load sanitized: ok=%v err=%v", ok, err)
	}
}
