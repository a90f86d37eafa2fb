package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/steward/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig   `mapstructure:"service" yaml:"service"`
	Transport     TransportConfig `mapstructure:"transport" yaml:"transport"`
	Terminal      TerminalConfig  `mapstructure:"terminal" yaml:"terminal"`
	Workspace     WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	HTTP          HTTPConfig      `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
	Auth          AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Secrets       SecretsConfig   `mapstructure:"secrets" yaml:"secrets"`
	Logging       LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 2

// ServiceConfig controls orchestrator behavior.
type ServiceConfig struct {
	DefaultTrustMode       string `mapstructure:"default_trust_mode" yaml:"default_trust_mode"`
	LedgerRetentionMinutes int    `mapstructure:"ledger_retention_minutes" yaml:"ledger_retention_minutes"`
}

// TransportConfig configures the agent transport backends.
type TransportConfig struct {
	SocketPath          string            `mapstructure:"socket_path" yaml:"socket_path"`
	Binary              string            `mapstructure:"binary" yaml:"binary"`
	Args                []string          `mapstructure:"args" yaml:"args"`
	Env                 map[string]string `mapstructure:"env" yaml:"env"`
	ProbeTimeoutSeconds int               `mapstructure:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`
	AllowExecFallback   bool              `mapstructure:"allow_exec_fallback" yaml:"allow_exec_fallback"`
}

// TerminalConfig configures terminal sessions.
type TerminalConfig struct {
	Shell          string                     `mapstructure:"shell" yaml:"shell"`
	BufferMaxBytes int                        `mapstructure:"buffer_max_bytes" yaml:"buffer_max_bytes"`
	Profiles       map[string]TerminalProfile `mapstructure:"profiles" yaml:"profiles"`
}

// TerminalProfile names a reusable terminal launch configuration.
type TerminalProfile struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`
	Cwd     string            `mapstructure:"cwd" yaml:"cwd"`
}

// WorkspaceConfig locates the loop registry.
type WorkspaceConfig struct {
	LoopsFile string `mapstructure:"loops_file" yaml:"loops_file"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	SessionCookie   string `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	SessionFile     string `mapstructure:"session_file" yaml:"session_file"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	BasePath        string `mapstructure:"base_path" yaml:"base_path"`
}

// SSHConfig configures the SSH terminal attach server.
type SSHConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path"`
}

// AuthConfig configures auth storage and seed users.
type AuthConfig struct {
	UserFile  string     `mapstructure:"user_file" yaml:"user_file"`
	SeedUsers []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// SeedUser seeds a user record in the auth store.
type SeedUser struct {
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// SecretsConfig configures the encryption key store.
type SecretsConfig struct {
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".steward", "state"),
		Service: ServiceConfig{
			DefaultTrustMode:       string(schema.TrustRequireApproval),
			LedgerRetentionMinutes: 60,
		},
		Transport: TransportConfig{
			SocketPath:          filepath.Join(home, ".steward", "state", "agent.sock"),
			Binary:              "codex",
			Args:                []string{},
			Env:                 map[string]string{},
			ProbeTimeoutSeconds: 5,
			AllowExecFallback:   true,
		},
		Terminal: TerminalConfig{
			Shell:          "",
			BufferMaxBytes: schema.DefaultTerminalBufferBytes,
			Profiles:       map[string]TerminalProfile{},
		},
		Workspace: WorkspaceConfig{
			LoopsFile: filepath.Join(home, ".steward", "loops.yaml"),
		},
		HTTP: HTTPConfig{
			Addr:            ":27580",
			SessionCookie:   "steward_session",
			SessionTTLHours: 720,
			SessionFile:     filepath.Join(home, ".steward", "state", "http_sessions.json"),
			BaseURL:         "",
			BasePath:        "",
		},
		SSH: SSHConfig{
			Addr:        ":27522",
			HostKeyPath: filepath.Join(home, ".steward", "ssh_host_key"),
		},
		Auth: AuthConfig{
			UserFile:  filepath.Join(home, ".steward", "users.json"),
			SeedUsers: []SeedUser{},
		},
		Secrets: SecretsConfig{
			KeyStorePath: filepath.Join(home, ".steward", "state", "keys.bundle"),
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".steward", "config.yaml"), nil
}

// ToServiceConfig maps the loaded config onto the runtime service config.
func (c Config) ToServiceConfig() (schema.ServiceConfig, error) {
	return schema.NormalizeServiceConfig(schema.ServiceConfig{
		StateDir:               c.StateDir,
		DefaultTrustMode:       schema.TrustMode(c.Service.DefaultTrustMode),
		TerminalBufferMaxBytes: c.Terminal.BufferMaxBytes,
		TerminalShell:          c.Terminal.Shell,
		LedgerRetention:        time.Duration(c.Service.LedgerRetentionMinutes) * time.Minute,
		DisableAuditLogging:    c.Logging.DisableAuditTrails,
	})
}
