package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/agentctl"
	"github.com/loykin/agentctl/internal/logger"
)

func main() {
	logger.Setup(slog.LevelInfo)
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "agentctl",
		Short: "agentctl supervises agent processes and schedules their tasks",
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&gf.APIUrl, "api-url", "", "daemon API base URL")
	root.PersistentFlags().DurationVar(&gf.APITimeout, "api-timeout", 10*time.Second, "daemon API timeout")

	root.AddCommand(
		createServeCommand(gf),
		createListCommand(gf),
		createStartCommand(gf),
		createStopCommand(gf),
		createStatusCommand(gf),
		createSubmitCommand(gf),
	)
	return root
}

func createServeCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controller in the foreground with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agentctl.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			if err := agentctl.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
				return err
			}
			ctrl, err := agentctl.New(cfg)
			if err != nil {
				return err
			}
			if err := ctrl.Start(); err != nil {
				return err
			}
			srv := ctrl.NewServer(cfg.Server.Listen, "/api")
			slog.Info("api listening", "addr", cfg.Server.Listen)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			slog.Info("shutdown signal received")
			_ = srv.Close()
			ctrl.Stop()
			return nil
		},
	}
}
