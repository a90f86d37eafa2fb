package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/steward"
	"pkt.systems/steward/core"
	"pkt.systems/steward/httpapi"
	"pkt.systems/steward/internal/agentexec"
	"pkt.systems/steward/internal/appconfig"
	"pkt.systems/steward/internal/appserver"
	"pkt.systems/steward/internal/persist"
	"pkt.systems/steward/internal/planning"
	"pkt.systems/steward/internal/secrets"
	"pkt.systems/steward/internal/settings"
	"pkt.systems/steward/internal/termsession"
	"pkt.systems/steward/internal/workspace"
	"pkt.systems/steward/schema"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var disableAuditTrails bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start steward servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableAuditTrails {
				cfg.Logging.DisableAuditTrails = true
			}
			serviceCfg, err := cfg.ToServiceConfig()
			if err != nil {
				return err
			}

			deps, err := buildServiceDeps(cfg, logger)
			if err != nil {
				return err
			}

			serverCfg := steward.ServerConfig{
				Service:    serviceCfg,
				Terminal:   toTerminalConfig(cfg.Terminal),
				HTTP:       toHTTPConfig(cfg.HTTP),
				SSH:        toSSHConfig(cfg.SSH),
				Auth:       toAuthConfig(cfg.Auth),
				HubHistory: 1000,
			}
			server, err := steward.New(serverCfg, steward.ServerDeps{ServiceDeps: deps}, steward.WithHTTP(), steward.WithSSH())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			logger.Info("ssh server listening", "addr", serverCfg.SSH.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for turns")
	return cmd
}

func buildServiceDeps(cfg appconfig.Config, logger pslog.Logger) (core.ServiceDeps, error) {
	registry, err := workspace.LoadFile(cfg.Workspace.LoopsFile, logger)
	if err != nil {
		return core.ServiceDeps{}, fmt.Errorf("workspace loops: %w", err)
	}
	store, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
	if err != nil {
		return core.ServiceDeps{}, err
	}
	settingsStore, err := settings.NewStore(cfg.StateDir, logger)
	if err != nil {
		return core.ServiceDeps{}, err
	}
	vault, err := secrets.NewVaultWithLogger(cfg.Secrets.KeyStorePath, logger)
	if err != nil {
		return core.ServiceDeps{}, err
	}
	transport, fallback, err := buildTransports(cfg.Transport, logger)
	if err != nil {
		return core.ServiceDeps{}, err
	}
	return core.ServiceDeps{
		Transport: transport,
		Fallback:  fallback,
		Registry:  registry,
		Settings:  settingsStore,
		Planning:  planning.NewResolver(cfg.StateDir, logger),
		Store:     store,
		Vault:     vault,
		Logger:    logger,
	}, nil
}

func buildTransports(cfg appconfig.TransportConfig, logger pslog.Logger) (core.Transport, core.Transport, error) {
	appSrv, err := appserver.New(appserver.Config{
		SocketPath:   cfg.SocketPath,
		ProbeTimeout: time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("app server transport: %w", err)
	}
	if !cfg.AllowExecFallback {
		return appSrv, nil, nil
	}
	execT, err := agentexec.New(agentexec.Config{
		BinaryPath: cfg.Binary,
		ExtraArgs:  cfg.Args,
		Env:        flattenEnv(cfg.Env),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("exec transport: %w", err)
	}
	return appSrv, execT, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for key, value := range env {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(out)
	return out
}

func toTerminalConfig(cfg appconfig.TerminalConfig) termsession.Config {
	profiles := make(map[schema.ProfileID]termsession.Profile, len(cfg.Profiles))
	for name, profile := range cfg.Profiles {
		profiles[schema.ProfileID(name)] = termsession.Profile{
			Command: profile.Command,
			Args:    profile.Args,
			Env:     flattenEnv(profile.Env),
			Cwd:     profile.Cwd,
		}
	}
	return termsession.Config{
		Shell:          cfg.Shell,
		BufferMaxBytes: cfg.BufferMaxBytes,
		Profiles:       profiles,
	}
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:            cfg.Addr,
		SessionCookie:   cfg.SessionCookie,
		SessionTTLHours: cfg.SessionTTLHours,
		SessionFile:     cfg.SessionFile,
		BaseURL:         cfg.BaseURL,
		BasePath:        cfg.BasePath,
	}
}

func toSSHConfig(cfg appconfig.SSHConfig) steward.SSHConfig {
	return steward.SSHConfig{
		Addr:        cfg.Addr,
		HostKeyPath: cfg.HostKeyPath,
	}
}

func toAuthConfig(cfg appconfig.AuthConfig) steward.AuthConfig {
	seeds := make([]steward.SeedUser, 0, len(cfg.SeedUsers))
	for _, seed := range cfg.SeedUsers {
		seeds = append(seeds, steward.SeedUser{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
		})
	}
	return steward.AuthConfig{
		UserFile:  cfg.UserFile,
		SeedUsers: seeds,
	}
}
