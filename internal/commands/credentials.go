package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage stored target credentials",
}

var listCredentialsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runListCredentials,
}

var createCredentialCmd = &cobra.Command{
	Use:   "create MATCH_EXPRESSION",
	Short: "Store a credential for the targets a match expression selects",
	Long: `Store a username and password applied to every target the match
expression selects. The password is read from --password or the
FD_CREDENTIAL_PASSWORD environment variable.

Examples:
  flightdeck credentials create 'target.alias == "orders"' --username admin --password secret`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateCredential,
}

var getCredentialCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a credential and the targets it applies to",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetCredential,
}

var deleteCredentialCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteCredential,
}

var (
	credUsername string
	credPassword string
)

func init() {
	credentialsCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	createCredentialCmd.Flags().StringVar(&credUsername, "username", "", "username")
	createCredentialCmd.Flags().StringVar(&credPassword, "password", "", "password")
	_ = createCredentialCmd.MarkFlagRequired("username") //nolint:errcheck

	credentialsCmd.AddCommand(listCredentialsCmd)
	credentialsCmd.AddCommand(createCredentialCmd)
	credentialsCmd.AddCommand(getCredentialCmd)
	credentialsCmd.AddCommand(deleteCredentialCmd)
}

func parseCredentialID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid credential id %q", arg)
	}
	return id, nil
}

func runListCredentials(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	list, err := c.ListCredentials(ctx)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(os.Stdout, list)
	}

	w := newTable(os.Stdout)
	fmt.Fprintln(w, "ID\tMATCH EXPRESSION\tTARGETS")
	for _, cred := range list {
		fmt.Fprintf(w, "%d\t%s\t%d\n", cred.ID, cred.MatchExpression, cred.NumMatchingTargets)
	}
	return w.Flush()
}

func runCreateCredential(cmd *cobra.Command, args []string) error {
	password := credPassword
	if password == "" {
		password = os.Getenv("FD_CREDENTIAL_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("a password is required (--password or FD_CREDENTIAL_PASSWORD)")
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	cred, err := c.CreateCredential(ctx, args[0], credUsername, password)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Stored credential %d (%d matching targets)\n", cred.ID, cred.NumMatchingTargets)
	return nil
}

func runGetCredential(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	id, err := parseCredentialID(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	cred, err := c.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(os.Stdout, cred)
	}
	fmt.Printf("Credential %d\n", cred.ID)
	fmt.Printf("Match expression: %s\n\n", cred.MatchExpression)
	return printTargets(cred.Targets)
}

func runDeleteCredential(cmd *cobra.Command, args []string) error {
	id, err := parseCredentialID(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	if err := c.DeleteCredential(ctx, id); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted credential %d\n", id)
	return nil
}
