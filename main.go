package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Prateek-Gupta001/GuideMemory/api"
	"github.com/Prateek-Gupta001/GuideMemory/config"
	logger "github.com/Prateek-Gupta001/GuideMemory/log"
	"github.com/Prateek-Gupta001/GuideMemory/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "guidememory",
	Short: "Memory and conversational coherence for spiritual guide chat",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// a missing .env is fine, the environment may already be set
		_ = godotenv.Load()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if addr, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
			cfg.ListenAddr = addr
		}
		if level, _ := cmd.Flags().GetString("log-level"); cmd.Flags().Changed("log-level") {
			cfg.LogLevel = level
		}
		logger.SetLogger(cfg.LogLevel, cfg.OTelLogs)
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().String("addr", ":9000", "address the HTTP server listens on (overrides LISTEN_ADDR)")
	rootCmd.Flags().String("log-level", "info", "debug, info, warn or error (overrides LOG_LEVEL)")
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	app, err := build(ctx, cfg)
	if err != nil {
		stop()
		return err
	}
	server := api.NewMemoryServer(cfg.ListenAddr, app.services, cfg.RateLimitRPS, telemetry.Options{
		OTLPEndpoint: cfg.OTLPEndpoint,
		Logs:         cfg.OTelLogs,
	})
	err = server.Run(ctx, stop)
	app.close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("GuideMemory stopped with an error", "error", err)
		os.Exit(1)
	}
}
