package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/steward/internal/appconfig"
	"pkt.systems/steward/internal/auth"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var probeTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run steward diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			deps, err := buildServiceDeps(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("doctor state dir ok", "dir", cfg.StateDir)

			loops := deps.Registry.ListLoops()
			logger.Info("doctor workspace ok", "loops_file", cfg.Workspace.LoopsFile, "loops", len(loops))
			for _, loop := range loops {
				if _, err := os.Stat(loop.Root); err != nil {
					return fmt.Errorf("doctor loop %s: root %q: %w", loop.ID, loop.Root, err)
				}
				logger.Info("doctor loop ok", "loop", loop.ID, "domain", loop.Domain, "root", loop.Root)
			}

			probeCtx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			report, err := deps.Transport.Readiness(probeCtx)
			if err != nil {
				logger.Warn("doctor app server unreachable", "socket", cfg.Transport.SocketPath, "err", err)
			} else {
				logger.Info("doctor app server probe", "app_server", report.AppServer, "logged_in", report.LoggedIn, "detail", report.Detail)
			}
			if deps.Fallback != nil {
				fallback, err := deps.Fallback.Readiness(probeCtx)
				if err != nil {
					logger.Warn("doctor exec fallback unavailable", "binary", cfg.Transport.Binary, "err", err)
				} else {
					logger.Info("doctor exec fallback probe", "cli_available", fallback.CLIAvailable, "detail", fallback.Detail)
				}
			}

			store, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, cfg.Auth.SeedUsers, logger)
			if err != nil {
				return err
			}
			users := store.LoadUsers()
			if len(users) == 0 {
				logger.Warn("doctor no users enrolled", "user_file", cfg.Auth.UserFile, "hint", "run: steward users add <username>")
			} else {
				logger.Info("doctor auth ok", "user_file", cfg.Auth.UserFile, "users", len(users))
			}

			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 5*time.Second, "timeout for transport probes")
	return cmd
}

func newInitCmd() *cobra.Command {
	var cfgPath string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := appconfig.WriteDefault(cfgPath, overwrite)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote config: %s\n", written)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing config file")
	return cmd
}
