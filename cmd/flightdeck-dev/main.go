// Command flightdeck-dev manages the local development stack: a CouchDB
// instance for the storage backend.
//
// Usage:
//
//	go run ./cmd/flightdeck-dev up
//	go run ./cmd/flightdeck-dev down
//	go run ./cmd/flightdeck-dev down --volumes
package main

import (
	"fmt"
	"os"

	"eve.evalgo.org/common"
	"eve.evalgo.org/containers/stacks"
	"eve.evalgo.org/containers/stacks/production"
	"github.com/spf13/cobra"
)

const stackName = "flightdeck-dev"

var (
	stackFile   string
	dockerHost  string
	withVolumes bool
)

func main() {
	root := &cobra.Command{
		Use:          "flightdeck-dev",
		Short:        "Manage the Flightdeck development stack",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&stackFile, "stack", "", "stack definition file (default: built-in CouchDB stack)")
	root.PersistentFlags().StringVar(&dockerHost, "docker-host", "unix:///var/run/docker.sock", "Docker daemon address")

	up := &cobra.Command{
		Use:   "up",
		Short: "Deploy the development stack",
		Args:  cobra.NoArgs,
		RunE:  runUp,
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Stop the development stack",
		Args:  cobra.NoArgs,
		RunE:  runDown,
	}
	down.Flags().BoolVar(&withVolumes, "volumes", false, "remove the stack and its data volumes")

	root.AddCommand(up, down)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// devStack is a single CouchDB matching the default couchdb settings.
func devStack() *stacks.Stack {
	return &stacks.Stack{
		Context: "https://schema.org",
		Type:    "ItemList",
		Name:    stackName,
		ItemListElement: []stacks.StackItemElement{
			{
				Type:  "SoftwareApplication",
				Name:  "couchdb",
				Image: "couchdb:3.3",
				Ports: []stacks.PortMapping{
					{ContainerPort: 5984, HostPort: 5984},
				},
				Environment: map[string]string{
					"COUCHDB_USER":     "admin",
					"COUCHDB_PASSWORD": "password",
				},
			},
		},
	}
}

func runUp(cmd *cobra.Command, args []string) error {
	stack := devStack()
	if stackFile != "" {
		loaded, err := stacks.LoadStackFromFile(stackFile)
		if err != nil {
			return fmt.Errorf("failed to load stack %s: %w", stackFile, err)
		}
		stack = loaded
	}
	ctx, cli, err := common.CtxCli(dockerHost)
	if err != nil {
		return fmt.Errorf("failed to connect to Docker: %w", err)
	}
	defer cli.Close()

	deployment, err := production.DeployStack(ctx, cli, stack)
	if err != nil {
		return fmt.Errorf("failed to deploy stack: %w", err)
	}

	fmt.Println("✓ Development stack started")
	for name, id := range deployment.Containers {
		if len(id) > 12 {
			id = id[:12]
		}
		fmt.Printf("  - %s: %s\n", name, id)
	}
	fmt.Println()
	fmt.Println("CouchDB: http://localhost:5984/_utils (admin / password)")
	fmt.Println("Run the server against it with: flightdeck server")
	return nil
}

func runDown(cmd *cobra.Command, args []string) error {
	ctx, cli, err := common.CtxCli(dockerHost)
	if err != nil {
		return fmt.Errorf("failed to connect to Docker: %w", err)
	}
	defer cli.Close()

	if withVolumes {
		if err := production.RemoveStack(ctx, cli, stackName, true); err != nil {
			return fmt.Errorf("failed to remove stack: %w", err)
		}
		fmt.Println("✓ Development stack removed (including data volumes)")
		return nil
	}
	if err := production.StopStack(ctx, cli, stackName); err != nil {
		return fmt.Errorf("failed to stop stack: %w", err)
	}
	fmt.Println("✓ Development stack stopped")
	return nil
}
