package secrets

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "keys.store")
	vault, err := NewVault(storePath)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	plain := []byte("diff --git a/x b/x\n")
	cipher, err := vault.Seal("loop-a", plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(cipher, plain) {
		t.Fatalf("cipher equals plaintext")
	}
	got, err := vault.Open("loop-a", cipher)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestOpenWrongLoopFails(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "keys.store")
	vault, err := NewVault(storePath)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	cipher, err := vault.Seal("loop-a", []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := vault.Open("loop-b", cipher); err == nil {
		t.Fatalf("expected decrypt failure for wrong loop")
	}
}

func TestNewVaultRequiresPath(t *testing.T) {
	if _, err := NewVault("  "); err == nil {
		t.Fatalf("expected error for empty store path")
	}
}
