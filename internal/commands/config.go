package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"evalgo.org/flightdeck/internal/storage"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Write a config.yaml with the default settings and a freshly generated
credential encryption key.`,
	RunE: runInitConfig,
}

var (
	initConfigPath  string
	initConfigForce bool
)

func init() {
	initConfigCmd.Flags().StringVarP(&initConfigPath, "output", "o", "config.yaml", "file to write")
	initConfigCmd.Flags().BoolVar(&initConfigForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	shown := *cfg
	// Secrets stay out of terminal scrollback
	if shown.CouchDB.Password != "" {
		shown.CouchDB.Password = "********"
	}
	if shown.Credentials.EncryptionKey != "" {
		shown.Credentials.EncryptionKey = "********"
	}
	if shown.Security.PluginTokenSecret != "" {
		shown.Security.PluginTokenSecret = "********"
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initConfigPath); err == nil && !initConfigForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initConfigPath)
	}

	key, err := storage.GenerateKey()
	if err != nil {
		return err
	}

	defaultConfig := fmt.Sprintf(`# Flightdeck Configuration

server:
  host: 0.0.0.0
  port: 8181
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false

storage:
  backend: couchdb
  archive_dir: ./archive

couchdb:
  url: http://localhost:5984
  database: flightdeck
  username: admin
  password: password
  timeout: 30

discovery:
  jdp_enabled: false
  jdp_address: 224.0.23.178:7095
  docker_enabled: false
  docker_host: ""
  docker_sync_interval: 30s
  plugin_ping_period: 5m
  event_buffer: 256

rules:
  dir: ""
  command_timeout: 30s

recordings:
  client_timeout: 30s
  tls_insecure: false

credentials:
  encryption_key: %s

logging:
  level: info
  format: json
  output: stdout

security:
  rate_limit: 100
  allowed_origins:
    - "*"
  auth_enabled: false
  api_key_hashes: []
  plugin_token_secret: change-me-in-production
  plugin_token_ttl: 1h

metrics:
  enabled: true
  path: /metrics

agent:
  server_url: http://localhost:8181
  listen: ":8282"
  sync_interval: 30s
  refresh_interval: 30m
`, key)

	if err := os.WriteFile(initConfigPath, []byte(defaultConfig), 0600); err != nil {
		return err
	}

	fmt.Printf("✓ Created %s\n", initConfigPath)
	return nil
}
