package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/steward/schema"
)

func TestLoadFileMissingIsEmpty(t *testing.T) {
	reg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := reg.ListLoops(); len(got) != 0 {
		t.Fatalf("expected empty registry, got %d loops", len(got))
	}
}

func TestLoadFileParsesLoopsAndDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loops.yaml")
	content := `
domains:
  - domain: web
    roots: ["/srv/shared"]
loops:
  - id: site-main
    domain: web
    root: /srv/site
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loop, ok := reg.Loop("site-main")
	if !ok || loop.Root != "/srv/site" {
		t.Fatalf("unexpected loop: %+v ok=%v", loop, ok)
	}
	roots := reg.DomainRoots("web")
	if len(roots) != 1 || roots[0] != "/srv/shared" {
		t.Fatalf("unexpected domain roots: %v", roots)
	}
}

func TestLoadFileRejectsInvalidLoopID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loops.yaml")
	if err := os.WriteFile(path, []byte("loops:\n  - id: Bad Loop\n    root: /srv\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path, nil); err == nil {
		t.Fatalf("expected invalid loop id error")
	}
}

func TestOverrideTokenSingleUse(t *testing.T) {
	reg := NewRegistry(nil)
	token, err := reg.MintOverride([]string{"/tmp/extra"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	roots, ok := reg.ConsumeOverride(token)
	if !ok || len(roots) != 1 || roots[0] != "/tmp/extra" {
		t.Fatalf("unexpected redeem: %v ok=%v", roots, ok)
	}
	if _, ok := reg.ConsumeOverride(token); ok {
		t.Fatalf("expected second redeem to fail")
	}
	if _, ok := reg.ConsumeOverride(schema.ScopeOverrideToken("bogus")); ok {
		t.Fatalf("expected unknown token to fail")
	}
}

func TestRegisterLoopRequiresRoot(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.RegisterLoop(Loop{ID: "loop-a"}); err == nil {
		t.Fatalf("expected missing root error")
	}
	if err := reg.RegisterLoop(Loop{ID: "loop-a", Root: "/srv/a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
}
