package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/agent"
	"evalgo.org/flightdeck/internal/logging"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Start the Docker discovery agent",
	Long: `Start an agent that registers a realm with a Flightdeck server as a
discovery plugin and mirrors the JVM containers of a Docker host into it.

The Docker host may be local (unix socket), tcp:// or ssh://user@host,
in which case the daemon socket is reached through an SSH tunnel.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("server-url", "", "Flightdeck server URL")
	agentCmd.Flags().String("realm", "", "realm name (default: docker-<hostname>)")
	agentCmd.Flags().String("listen", "", "callback server listen address")
	agentCmd.Flags().String("callback-url", "", "callback URL the server pings")
	agentCmd.Flags().String("docker-host", "", "Docker daemon address")
	agentCmd.Flags().String("ssh-identity", "", "SSH private key for ssh:// Docker hosts")
}

func applyAgentFlags(cmd *cobra.Command) {
	set := func(name string, dst *string) {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			*dst = v
		}
	}
	set("server-url", &cfg.Agent.ServerURL)
	set("realm", &cfg.Agent.Realm)
	set("listen", &cfg.Agent.Listen)
	set("callback-url", &cfg.Agent.CallbackURL)
	set("docker-host", &cfg.Agent.DockerHost)
	set("ssh-identity", &cfg.Agent.SSHIdentity)
}

func runAgent(cmd *cobra.Command, args []string) error {
	applyAgentFlags(cmd)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := agent.New(agent.Config{
		ServerURL:       cfg.Agent.ServerURL,
		Realm:           cfg.Agent.Realm,
		Listen:          cfg.Agent.Listen,
		CallbackURL:     cfg.Agent.CallbackURL,
		DockerHost:      cfg.Agent.DockerHost,
		SSHIdentity:     cfg.Agent.SSHIdentity,
		SyncInterval:    cfg.Agent.SyncInterval,
		RefreshInterval: cfg.Agent.RefreshInterval,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("agent started", zap.String("realm", a.Realm()), zap.String("server", cfg.Agent.ServerURL))
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent error: %w", err)
	}
	logger.Info("agent stopped")
	return nil
}
