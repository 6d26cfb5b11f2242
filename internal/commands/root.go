package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"evalgo.org/flightdeck/internal/config"
	"evalgo.org/flightdeck/internal/version"
	"evalgo.org/flightdeck/pkg/flightdeck/client"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flightdeck",
	Short: "JVM discovery and flight recording automation",
	Long: `Flightdeck discovers JVMs through JDP, Docker and discovery plugins,
keeps them in a realm tree, and drives flight recordings against them
with match-expression rules and stored credentials.

Run "flightdeck server" to start the service and the other commands to
manage a running instance.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, console)")
	rootCmd.PersistentFlags().String("url", "", "Flightdeck server URL for client commands (env FD_URL)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for client commands (env FD_API_KEY)")

	// These should never fail as flags are defined above
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))         //nolint:errcheck
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key")) //nolint:errcheck
	viper.SetEnvPrefix("FD")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(discoveryCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Flags win over the file and the environment
	if level, _ := rootCmd.PersistentFlags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := rootCmd.PersistentFlags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
}

// newClient builds an API client from --url/--api-key, falling back to the
// configured server address.
func newClient() (*client.Client, error) {
	baseURL := viper.GetString("url")
	if baseURL == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		scheme := "http"
		if cfg.Server.TLSEnabled {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Server.Port)
	}
	opts := []client.Option{client.WithUserAgent(version.UserAgent())}
	if key := viper.GetString("api_key"); key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	return client.New(baseURL, opts...)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Println(info.String())

		if cmd.Flag("verbose").Changed {
			fmt.Printf("\nDetails:\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Git Commit: %s\n", info.GitCommit)
			fmt.Printf("  Built:      %s\n", info.BuildTime)
			fmt.Printf("  Go Version: %s\n", info.GoVersion)
			fmt.Printf("  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
