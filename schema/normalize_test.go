package schema

import "testing"

func TestValidateUserID(t *testing.T) {
	valid := []UserID{"alice", "bob-2", "a.b_c"}
	for _, id := range valid {
		if err := ValidateUserID(id); err != nil {
			t.Fatalf("expected %q valid, got %v", id, err)
		}
	}
	invalid := []UserID{"", "Alice", "a b", " alice", "alice ", "a/b"}
	for _, id := range invalid {
		if err := ValidateUserID(id); err == nil {
			t.Fatalf("expected %q invalid", id)
		}
	}
}

func TestNormalizeTrustMode(t *testing.T) {
	mode, err := NormalizeTrustMode(" Require-Approval ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != TrustRequireApproval {
		t.Fatalf("expected require-approval, got %q", mode)
	}
	if _, err := NormalizeTrustMode("ask-me-maybe"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestNormalizeServiceConfigDefaults(t *testing.T) {
	cfg, err := NormalizeServiceConfig(ServiceConfig{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultTrustMode != TrustRequireApproval {
		t.Fatalf("expected require-approval default, got %q", cfg.DefaultTrustMode)
	}
	if cfg.TerminalBufferMaxBytes != DefaultTerminalBufferBytes {
		t.Fatalf("unexpected buffer limit %d", cfg.TerminalBufferMaxBytes)
	}
	if cfg.LedgerRetention != DefaultLedgerRetention {
		t.Fatalf("unexpected retention %v", cfg.LedgerRetention)
	}
}
