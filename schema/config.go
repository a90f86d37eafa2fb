package schema

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	StateDir               string
	DefaultTrustMode       TrustMode
	TerminalBufferMaxBytes int
	TerminalShell          string
	LedgerRetention        time.Duration
	// DisableAuditLogging disables audit trail debug logs for resolutions.
	DisableAuditLogging bool
}

// DefaultTerminalBufferBytes is the default per-session ring buffer limit.
const DefaultTerminalBufferBytes = 256 * 1024

// DefaultLedgerRetention is how long finished turn ledgers stay queryable.
const DefaultLedgerRetention = time.Hour

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".steward", "state")
	}
	if cfg.DefaultTrustMode == "" {
		cfg.DefaultTrustMode = TrustRequireApproval
	}
	if _, err := NormalizeTrustMode(string(cfg.DefaultTrustMode)); err != nil {
		return ServiceConfig{}, err
	}
	if cfg.TerminalBufferMaxBytes <= 0 {
		cfg.TerminalBufferMaxBytes = DefaultTerminalBufferBytes
	}
	if cfg.TerminalShell == "" {
		cfg.TerminalShell = defaultShell()
	}
	if cfg.LedgerRetention <= 0 {
		cfg.LedgerRetention = DefaultLedgerRetention
	}
	if cfg.LedgerRetention < time.Minute {
		return ServiceConfig{}, errors.New("ledger retention must be at least one minute")
	}
	return cfg, nil
}

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}
