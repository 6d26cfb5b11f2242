// Package config provides configuration management for flightdeck.
//
// Configuration is loaded from multiple sources, later ones overriding earlier ones:
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.flightdeck/config.yaml, /etc/flightdeck/config.yaml)
//  3. .env files
//  4. Environment variables (FD_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
//
// # Environment Variables
//
// Use the FD_ prefix and underscores for nested keys:
//   - FD_SERVER_PORT=8181
//   - FD_STORAGE_BACKEND=memory
//   - FD_CREDENTIALS_ENCRYPTION_KEY=AGE-SECRET-KEY-1...
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendCouchDB = "couchdb"
	BackendMemory  = "memory"
)

// Config is the root configuration structure for flightdeck.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	CouchDB     CouchDBConfig     `mapstructure:"couchdb" yaml:"couchdb"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery" yaml:"discovery"`
	Rules       RulesConfig       `mapstructure:"rules" yaml:"rules"`
	Recordings  RecordingsConfig  `mapstructure:"recordings" yaml:"recordings"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Security    SecurityConfig    `mapstructure:"security" yaml:"security"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8181)
	Port int `mapstructure:"port" yaml:"port"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Debug exposes internal error details in API responses
	Debug bool `mapstructure:"debug" yaml:"debug"`

	TLSEnabled bool   `mapstructure:"tls_enabled" yaml:"tls_enabled"`
	TLSCert    string `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key" yaml:"tls_key"`
}

// StorageConfig selects the persistence backend for rules and credentials.
type StorageConfig struct {
	// Backend is either "couchdb" or "memory"
	Backend string `mapstructure:"backend" yaml:"backend"`

	// ArchiveDir holds archived recordings
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"`
}

// CouchDBConfig contains CouchDB connection settings.
type CouchDBConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Database string `mapstructure:"database" yaml:"database"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// Timeout in seconds for database operations
	Timeout int `mapstructure:"timeout" yaml:"timeout"`
}

// DiscoveryConfig controls the built-in discovery sources and the plugin registry.
type DiscoveryConfig struct {
	JDPEnabled bool   `mapstructure:"jdp_enabled" yaml:"jdp_enabled"`
	JDPAddress string `mapstructure:"jdp_address" yaml:"jdp_address"`

	DockerEnabled      bool          `mapstructure:"docker_enabled" yaml:"docker_enabled"`
	DockerHost         string        `mapstructure:"docker_host" yaml:"docker_host"`
	DockerSSHIdentity  string        `mapstructure:"docker_ssh_identity" yaml:"docker_ssh_identity"`
	DockerSyncInterval time.Duration `mapstructure:"docker_sync_interval" yaml:"docker_sync_interval"`

	// PluginPingPeriod is how often plugin callbacks are checked; zero disables pings
	PluginPingPeriod time.Duration `mapstructure:"plugin_ping_period" yaml:"plugin_ping_period"`

	// EventBuffer is the per-subscriber discovery event queue length
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// RulesConfig contains rule engine settings.
type RulesConfig struct {
	// Dir holds declarative rule files created at startup
	Dir string `mapstructure:"dir" yaml:"dir"`

	// CommandTimeout bounds a single recording command issued by a rule
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// RecordingsConfig configures the recording-control client.
type RecordingsConfig struct {
	ClientTimeout time.Duration `mapstructure:"client_timeout" yaml:"client_timeout"`
	TLSInsecure   bool          `mapstructure:"tls_insecure" yaml:"tls_insecure"`
}

// CredentialsConfig configures encryption of stored credentials.
type CredentialsConfig struct {
	// EncryptionKey is an age X25519 identity; empty generates an ephemeral one
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (json, console)
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	// AllowedOrigins are the CORS and websocket allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// AuthEnabled requires an API key on every non-public endpoint
	AuthEnabled bool `mapstructure:"auth_enabled" yaml:"auth_enabled"`

	// APIKeyHashes are bcrypt hashes of accepted API keys
	APIKeyHashes []string `mapstructure:"api_key_hashes" yaml:"api_key_hashes"`

	// PluginTokenSecret signs discovery plugin tokens
	PluginTokenSecret string        `mapstructure:"plugin_token_secret" yaml:"plugin_token_secret"`
	PluginTokenTTL    time.Duration `mapstructure:"plugin_token_ttl" yaml:"plugin_token_ttl"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// AgentConfig configures the Docker discovery plugin agent.
type AgentConfig struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	// Realm defaults to docker-<hostname>
	Realm       string `mapstructure:"realm" yaml:"realm"`
	Listen      string `mapstructure:"listen" yaml:"listen"`
	CallbackURL string `mapstructure:"callback_url" yaml:"callback_url"`
	DockerHost  string `mapstructure:"docker_host" yaml:"docker_host"`
	SSHIdentity string `mapstructure:"ssh_identity" yaml:"ssh_identity"`

	SyncInterval    time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.flightdeck")
		v.AddConfigPath("/etc/flightdeck")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// A missing explicit file falls back to defaults
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig()

	v.SetEnvPrefix("FD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(loaded); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = loaded
	return cfg, nil
}

// Default returns the built-in defaults without reading any file or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	out := &Config{}
	_ = v.Unmarshal(out)
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8181)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("storage.backend", BackendCouchDB)
	v.SetDefault("storage.archive_dir", "./archive")

	v.SetDefault("couchdb.url", "http://localhost:5984")
	v.SetDefault("couchdb.database", "flightdeck")
	v.SetDefault("couchdb.username", "admin")
	v.SetDefault("couchdb.password", "password")
	v.SetDefault("couchdb.timeout", 30)

	v.SetDefault("discovery.jdp_enabled", false)
	v.SetDefault("discovery.jdp_address", "224.0.23.178:7095")
	v.SetDefault("discovery.docker_enabled", false)
	v.SetDefault("discovery.docker_host", "")
	v.SetDefault("discovery.docker_ssh_identity", "")
	v.SetDefault("discovery.docker_sync_interval", "30s")
	v.SetDefault("discovery.plugin_ping_period", "5m")
	v.SetDefault("discovery.event_buffer", 256)

	v.SetDefault("rules.dir", "")
	v.SetDefault("rules.command_timeout", "30s")

	v.SetDefault("recordings.client_timeout", "30s")
	v.SetDefault("recordings.tls_insecure", false)

	v.SetDefault("credentials.encryption_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.api_key_hashes", []string{})
	v.SetDefault("security.plugin_token_secret", "change-me-in-production")
	v.SetDefault("security.plugin_token_ttl", "1h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("agent.server_url", "http://localhost:8181")
	v.SetDefault("agent.realm", "")
	v.SetDefault("agent.listen", ":8282")
	v.SetDefault("agent.callback_url", "")
	v.SetDefault("agent.docker_host", "")
	v.SetDefault("agent.ssh_identity", "")
	v.SetDefault("agent.sync_interval", "30s")
	v.SetDefault("agent.refresh_interval", "30m")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Storage.Backend {
	case BackendCouchDB:
		if cfg.CouchDB.URL == "" {
			return fmt.Errorf("couchdb url is required")
		}
		if cfg.CouchDB.Database == "" {
			return fmt.Errorf("couchdb database is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	if cfg.Discovery.JDPEnabled {
		if _, _, err := net.SplitHostPort(cfg.Discovery.JDPAddress); err != nil {
			return fmt.Errorf("invalid jdp address %q: %w", cfg.Discovery.JDPAddress, err)
		}
	}

	if cfg.Discovery.EventBuffer < 0 {
		return fmt.Errorf("discovery event_buffer must not be negative")
	}

	switch cfg.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown logging format: %q", cfg.Logging.Format)
	}

	if cfg.Security.AuthEnabled && len(cfg.Security.APIKeyHashes) == 0 {
		return fmt.Errorf("auth_enabled requires at least one api key hash")
	}

	if cfg.Agent.SyncInterval < 0 || cfg.Agent.RefreshInterval < 0 {
		return fmt.Errorf("agent intervals must not be negative")
	}

	if cfg.Security.PluginTokenSecret == "" {
		return fmt.Errorf("plugin token secret is required")
	}

	return nil
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	return cfg
}

// BuildURL returns the CouchDB URL with embedded credentials.
func (c *CouchDBConfig) BuildURL() string {
	if c.Username != "" && c.Password != "" {
		url := strings.Replace(c.URL, "://", "://"+c.Username+":"+c.Password+"@", 1)
		return url
	}
	return c.URL
}

func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
