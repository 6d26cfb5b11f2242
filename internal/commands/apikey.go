package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"evalgo.org/flightdeck/internal/auth"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
	Long: `Generate API keys and the bcrypt hashes the server accepts.

The server stores only hashes, listed under security.api_key_hashes. Clients
send the plain key in the X-API-Key header or as a bearer token.`,
}

var generateAPIKeyCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key and its hash",
	Long: `Generate a random API key and print it with its bcrypt hash.

Examples:
  flightdeck apikey generate`,
	Args: cobra.NoArgs,
	RunE: runGenerateAPIKey,
}

var hashAPIKeyCmd = &cobra.Command{
	Use:   "hash KEY",
	Short: "Hash an existing API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runHashAPIKey,
}

func init() {
	apikeyCmd.AddCommand(generateAPIKeyCmd)
	apikeyCmd.AddCommand(hashAPIKeyCmd)
}

func runGenerateAPIKey(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}

	fmt.Printf("API Key Generated Successfully\n")
	fmt.Printf("==============================\n\n")
	fmt.Printf("Key:\n%s\n\n", key)
	fmt.Printf("Add the hash to your server configuration:\n")
	fmt.Printf("  security:\n")
	fmt.Printf("    auth_enabled: true\n")
	fmt.Printf("    api_key_hashes:\n")
	fmt.Printf("      - %s\n\n", hash)
	fmt.Printf("⚠️  The key is shown once. Keep it secure!\n")
	return nil
}

func runHashAPIKey(cmd *cobra.Command, args []string) error {
	hash, err := auth.HashAPIKey(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
