package main

import (
	"testing"

	"pkt.systems/steward/internal/appconfig"
	"pkt.systems/steward/schema"
)

func TestFlattenEnvSortsPairs(t *testing.T) {
	got := flattenEnv(map[string]string{
		"ZED":  "last",
		"ABC":  "first",
		"  ":   "skipped",
		"PATH": "/usr/bin",
	})
	want := []string{"ABC=first", "PATH=/usr/bin", "ZED=last"}
	if len(got) != len(want) {
		t.Fatalf("flattenEnv = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("flattenEnv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestToTerminalConfigConvertsProfiles(t *testing.T) {
	cfg := toTerminalConfig(appconfig.TerminalConfig{
		Shell:          "/bin/zsh",
		BufferMaxBytes: 4096,
		Profiles: map[string]appconfig.TerminalProfile{
			"logs": {
				Command: "journalctl",
				Args:    []string{"-f"},
				Env:     map[string]string{"TERM": "xterm-256color"},
				Cwd:     "/var/log",
			},
		},
	})
	if cfg.Shell != "/bin/zsh" || cfg.BufferMaxBytes != 4096 {
		t.Fatalf("unexpected terminal defaults: %+v", cfg)
	}
	profile, ok := cfg.Profiles[schema.ProfileID("logs")]
	if !ok {
		t.Fatalf("expected logs profile, got %+v", cfg.Profiles)
	}
	if profile.Command != "journalctl" || profile.Cwd != "/var/log" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if len(profile.Env) != 1 || profile.Env[0] != "TERM=xterm-256color" {
		t.Fatalf("unexpected profile env: %v", profile.Env)
	}
}

func TestBuildTransportsHonorsFallbackToggle(t *testing.T) {
	transport, fallback, err := buildTransports(appconfig.TransportConfig{
		SocketPath:          "/tmp/steward-test.sock",
		Binary:              "codex",
		ProbeTimeoutSeconds: 1,
		AllowExecFallback:   false,
	}, nil)
	if err != nil {
		t.Fatalf("buildTransports: %v", err)
	}
	if transport == nil {
		t.Fatalf("expected app server transport")
	}
	if fallback != nil {
		t.Fatalf("expected no fallback when disabled")
	}

	_, fallback, err = buildTransports(appconfig.TransportConfig{
		SocketPath:          "/tmp/steward-test.sock",
		Binary:              "codex",
		ProbeTimeoutSeconds: 1,
		AllowExecFallback:   true,
	}, nil)
	if err != nil {
		t.Fatalf("buildTransports with fallback: %v", err)
	}
	if fallback == nil {
		t.Fatalf("expected exec fallback when enabled")
	}
	if fallback.Kind() != schema.TransportExec {
		t.Fatalf("fallback kind = %s, want %s", fallback.Kind(), schema.TransportExec)
	}
}

func TestToAuthConfigCopiesSeeds(t *testing.T) {
	cfg := toAuthConfig(appconfig.AuthConfig{
		UserFile: "/tmp/users.json",
		SeedUsers: []appconfig.SeedUser{
			{Username: "alice", PasswordHash: "hash", TOTPSecret: "secret"},
		},
	})
	if cfg.UserFile != "/tmp/users.json" {
		t.Fatalf("unexpected user file: %q", cfg.UserFile)
	}
	if len(cfg.SeedUsers) != 1 || cfg.SeedUsers[0].Username != "alice" {
		t.Fatalf("unexpected seeds: %+v", cfg.SeedUsers)
	}
}
