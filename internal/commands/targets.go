package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"evalgo.org/flightdeck/models"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage discovered and custom targets",
}

var listTargetsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known targets",
	Args:  cobra.NoArgs,
	RunE:  runListTargets,
}

var createTargetCmd = &cobra.Command{
	Use:   "create CONNECT_URL",
	Short: "Add a custom target",
	Long: `Add a target to the Custom Targets realm.

Examples:
  flightdeck targets create service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi --alias app
  flightdeck targets create http://app:8080/agent --label env=prod`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateTarget,
}

var deleteTargetCmd = &cobra.Command{
	Use:   "delete CONNECT_URL",
	Short: "Remove a custom target",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteTarget,
}

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Inspect the discovery tree",
}

var discoveryTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the discovery tree",
	Args:  cobra.NoArgs,
	RunE:  runDiscoveryTree,
}

var discoveryPluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List registered discovery plugins",
	Args:  cobra.NoArgs,
	RunE:  runDiscoveryPlugins,
}

var matchCmd = &cobra.Command{
	Use:   "match EXPRESSION",
	Short: "Show the targets a match expression selects",
	Long: `Evaluate a match expression against every known target.

Examples:
  flightdeck discovery match 'target.labels.env == "prod"'
  flightdeck discovery match '/^orders/.test(target.alias)'`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

var (
	targetAlias  string
	targetLabels map[string]string
	mergeRealms  bool
)

func init() {
	targetsCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")
	discoveryCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	createTargetCmd.Flags().StringVar(&targetAlias, "alias", "", "display name")
	createTargetCmd.Flags().StringToStringVar(&targetLabels, "label", nil, "label key=value (repeatable)")
	discoveryTreeCmd.Flags().BoolVar(&mergeRealms, "merge-realms", false, "lift realm children to the root")

	targetsCmd.AddCommand(listTargetsCmd)
	targetsCmd.AddCommand(createTargetCmd)
	targetsCmd.AddCommand(deleteTargetCmd)

	discoveryCmd.AddCommand(discoveryTreeCmd)
	discoveryCmd.AddCommand(discoveryPluginsCmd)
	discoveryCmd.AddCommand(matchCmd)
}

func runListTargets(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	list, err := c.ListTargets(ctx)
	if err != nil {
		return err
	}
	return printTargets(list)
}

func runCreateTarget(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	t, err := c.CreateTarget(ctx, models.Target{
		ConnectURL: args[0],
		Alias:      targetAlias,
		Labels:     targetLabels,
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Added target %s (%s)\n", t.DisplayName(), t.ConnectURL)
	return nil
}

func runDeleteTarget(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	if err := c.DeleteTarget(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Removed target %s\n", args[0])
	return nil
}

func runDiscoveryTree(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	root, err := c.DiscoveryTree(ctx, mergeRealms)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(os.Stdout, root)
	}
	printNode(os.Stdout, root, "", true, true)
	return nil
}

// printNode draws the subtree rooted at n with box-drawing guides.
func printNode(w io.Writer, n *models.DiscoveryNode, prefix string, last, root bool) {
	label := fmt.Sprintf("%s [%s]", n.Name, n.NodeType)
	if n.Target != nil {
		label += " " + n.Target.ConnectURL
	}
	childPrefix := prefix
	switch {
	case root:
		fmt.Fprintln(w, label)
	case last:
		fmt.Fprintf(w, "%s└── %s\n", prefix, label)
		childPrefix += "    "
	default:
		fmt.Fprintf(w, "%s├── %s\n", prefix, label)
		childPrefix += "│   "
	}
	for i, child := range n.Children {
		printNode(w, child, childPrefix, i == len(n.Children)-1, false)
	}
}

func runDiscoveryPlugins(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	list, err := c.Plugins(ctx)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(os.Stdout, list)
	}
	w := newTable(os.Stdout)
	fmt.Fprintln(w, "ID\tREALM\tCALLBACK\tNODES")
	for _, p := range list {
		realm, nodes := "-", 0
		if p.Realm != nil {
			realm, nodes = p.Realm.Name, len(p.Realm.Children)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.ID, realm, p.Callback, nodes)
	}
	return w.Flush()
}

func runMatch(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	matched, err := c.TestMatchExpression(ctx, strings.TrimSpace(args[0]), nil)
	if err != nil {
		return err
	}
	if outputFormat == "table" && len(matched) == 0 {
		fmt.Println("No targets match")
		return nil
	}
	return printTargets(matched)
}
