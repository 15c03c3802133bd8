package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/hutch/pkg/agents"
	"github.com/cuemby/hutch/pkg/api"
	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/ingress"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/reconciler"
	"github.com/cuemby/hutch/pkg/security"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/supervisor"
	"github.com/cuemby/hutch/pkg/users"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the hutch control plane",
	Long: `Start the control plane: open the store, recover the workspace fleet,
and serve the JSON API, the reverse proxy, and the ops endpoints on a
single listener.

Configuration comes from environment variables, with flags filling in
anything the environment leaves unset. CONFIG_ENCRYPTION_KEY and
JWT_SECRET are required; everything else has a development default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

func init() {
	serverCmd.Flags().String("db", "", "Path to the bolt database file")
	serverCmd.Flags().String("host", "", "Listen host for the API server")
	serverCmd.Flags().Int("port", 0, "Listen port for the API server")
	serverCmd.Flags().String("data-root", "", "Directory holding per-instance data")
}

// loadConfig reads the environment, then fills still-unset values from the
// command line. The environment wins when both are present.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	if v, _ := cmd.Flags().GetString("db"); v != "" && os.Getenv("DATABASE_URL") == "" {
		cfg.DatabaseURL = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" && os.Getenv("HOST") == "" {
		cfg.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 && os.Getenv("PORT") == "" {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetString("data-root"); v != "" && os.Getenv("VIBE_INSTANCES_DATA_ROOT") == "" {
		cfg.DataRoot = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

func runServer(cfg *config.Config) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	if cfg.EncryptionKey == "" {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY is required (generate one with 'hutch genkey')")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	encryptor, err := security.NewEncryptorFromBase64(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid CONFIG_ENCRYPTION_KEY: %v", err)
	}
	tokens, err := security.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("invalid JWT_SECRET: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %v", cfg.DatabaseURL, err)
	}
	metrics.UpdateComponent("store", true, "open")
	logger.Info().Str("path", cfg.DatabaseURL).Msg("store opened")

	broker := events.NewBroker()
	broker.Start()

	agentMgr := agents.NewManager(store, encryptor, broker)
	sup := supervisor.New(store, agentMgr, broker, supervisor.Config{
		VibeKanbanBin:   cfg.VibeKanbanBin,
		VibeKanbanArgs:  cfg.VibeKanbanArgs,
		DataRoot:        cfg.DataRoot,
		PortBase:        cfg.PortBase,
		PortMax:         cfg.PortMax,
		StartupTimeout:  cfg.StartupTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	userMgr := users.NewManager(store, tokens, broker, users.Config{
		SessionTTL:       cfg.SessionTTL,
		RefreshThreshold: cfg.SessionRefreshThreshold,
		MaxSessions:      cfg.SessionMaxPerUser,
	})
	proxy := ingress.NewProxy(userMgr, sup, "/api/proxy")

	server := api.New(api.Config{
		Addr:       cfg.ListenAddr(),
		SessionTTL: cfg.SessionTTL,
	}, store, userMgr, sup, agentMgr, broker, proxy)

	// Reconcile recorded instance state with reality before taking traffic.
	if err := sup.Recover(); err != nil {
		logger.Error().Err(err).Msg("fleet recovery failed")
	}
	metrics.UpdateComponent("supervisor", true, "recovered")

	collector := metrics.NewCollector(store)
	collector.Start()

	recon := reconciler.New(sup, userMgr, broker, cfg.HealthCheckInterval)
	recon.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	// Stop intake first, then the background loops, then the children.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("api shutdown incomplete")
	}
	recon.Stop()
	collector.Stop()
	sup.Shutdown()
	broker.Stop()
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("store close failed")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
