package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evalgo.org/flightdeck/internal/api"
	"evalgo.org/flightdeck/internal/archive"
	"evalgo.org/flightdeck/internal/auth"
	"evalgo.org/flightdeck/internal/config"
	"evalgo.org/flightdeck/internal/credentials"
	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/discovery/docker"
	"evalgo.org/flightdeck/internal/discovery/jdp"
	"evalgo.org/flightdeck/internal/logging"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/plugins"
	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/internal/recordings/agentclient"
	"evalgo.org/flightdeck/internal/rules"
	"evalgo.org/flightdeck/internal/scheduler"
	"evalgo.org/flightdeck/internal/storage"
	"evalgo.org/flightdeck/internal/version"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the Flightdeck service: the discovery tree and its sources, the
rule engine, the credential resolver, the plugin registry and the HTTP API.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	serverCmd.Flags().Bool("memory", false, "use the in-memory storage backend")
	serverCmd.Flags().Bool("jdp", false, "enable JDP discovery")
	serverCmd.Flags().Bool("docker", false, "enable Docker discovery")
}

func applyServerFlags(cmd *cobra.Command) {
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if memory, _ := cmd.Flags().GetBool("memory"); memory {
		cfg.Storage.Backend = config.BackendMemory
	}
	if enabled, _ := cmd.Flags().GetBool("jdp"); enabled {
		cfg.Discovery.JDPEnabled = true
	}
	if enabled, _ := cmd.Flags().GetBool("docker"); enabled {
		cfg.Discovery.DockerEnabled = true
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	applyServerFlags(cmd)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting flightdeck",
		zap.String("version", version.Version),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("port", cfg.Server.Port))

	// Initialize storage layer
	sealer, err := storage.NewSealer(cfg.Credentials.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential encryption: %w", err)
	}
	if cfg.Credentials.EncryptionKey == "" {
		logger.Warn("no credentials.encryption_key set, stored credentials will not survive a restart")
	}
	store, err := storage.New(cfg, sealer, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	archives, err := archive.New(cfg.Storage.ArchiveDir)
	if err != nil {
		return fmt.Errorf("failed to initialize archive: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	hub := notify.NewHub(logger, cfg.Security.AllowedOrigins)
	sched := scheduler.New(logger)
	defer sched.Stop()

	tree := discovery.NewTree(discovery.Options{
		EventBuffer: cfg.Discovery.EventBuffer,
		Logger:      logger,
	})

	creds := credentials.New(credentials.Options{
		Store:     store,
		Targets:   tree,
		Evaluator: tree.Evaluator(),
		Sink:      hub,
		Logger:    logger,
	})
	if err := creds.Load(); err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	orch := recordings.New(recordings.Options{
		Connector: agentclient.New(agentclient.Config{
			Timeout:     cfg.Recordings.ClientTimeout,
			TLSInsecure: cfg.Recordings.TLSInsecure,
			Credentials: creds,
			Logger:      logger,
		}),
		Archives:       archives,
		Scheduler:      sched,
		Sink:           hub,
		Logger:         logger,
		CommandTimeout: cfg.Rules.CommandTimeout,
	})

	engine := rules.New(rules.Options{
		Store:          store,
		Targets:        tree,
		Evaluator:      tree.Evaluator(),
		Recorder:       orch,
		Scheduler:      sched,
		Sink:           hub,
		Logger:         logger,
		CommandTimeout: cfg.Rules.CommandTimeout,
	})
	if err := engine.Load(); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if cfg.Rules.Dir != "" {
		n, err := engine.LoadDir(cfg.Rules.Dir)
		if err != nil {
			return fmt.Errorf("failed to load rules from %s: %w", cfg.Rules.Dir, err)
		}
		logger.Info("declarative rules loaded", zap.String("dir", cfg.Rules.Dir), zap.Int("created", n))
	}

	registry := plugins.NewRegistry(plugins.Options{
		Tree:       tree,
		Tokens:     auth.NewTokenService(cfg.Security.PluginTokenSecret, cfg.Security.PluginTokenTTL),
		Sink:       hub,
		Logger:     logger,
		PingPeriod: cfg.Discovery.PluginPingPeriod,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { discovery.ForwardNotifications(gctx, tree, hub); return nil })
	g.Go(func() error { creds.Run(gctx); return nil })
	g.Go(func() error { engine.Run(gctx); return nil })
	g.Go(func() error { orch.Run(gctx, tree); return nil })
	g.Go(func() error { registry.Run(gctx); return nil })

	if cfg.Discovery.JDPEnabled {
		listener := jdp.NewListener(cfg.Discovery.JDPAddress, tree, logger)
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil {
				logger.Error("JDP discovery stopped", zap.Error(err))
			}
			return nil
		})
	}
	if cfg.Discovery.DockerEnabled {
		cli, closeDocker, err := docker.NewClient(cfg.Discovery.DockerHost, cfg.Discovery.DockerSSHIdentity)
		if err != nil {
			return fmt.Errorf("failed to create docker client: %w", err)
		}
		defer func() { _ = closeDocker() }()
		source := docker.New(cli, tree, cfg.Discovery.DockerSyncInterval, logger)
		g.Go(func() error {
			if err := source.Run(gctx); err != nil {
				logger.Error("Docker discovery stopped", zap.Error(err))
			}
			return nil
		})
	}

	server := api.New(cfg, api.Dependencies{
		Tree:        tree,
		Rules:       engine,
		Credentials: creds,
		Plugins:     registry,
		Recordings:  orch,
		Hub:         hub,
		Logger:      logger,
	})

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		runErr = fmt.Errorf("server error: %w", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown error: %w", err)
	}
	_ = g.Wait()

	logger.Info("flightdeck stopped")
	return runErr
}
