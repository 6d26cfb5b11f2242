package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/flightdeck/internal/matchexpr"
	"evalgo.org/flightdeck/internal/rules"
	"evalgo.org/flightdeck/models"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage automated recording rules",
}

var listRulesCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	Args:  cobra.NoArgs,
	RunE:  runListRules,
}

var createRulesCmd = &cobra.Command{
	Use:   "create -f FILE",
	Short: "Create rules from a YAML or JSON file",
	Long: `Create the rules defined in a file. A file may hold a single rule, a
list of rules or several YAML documents.

Examples:
  flightdeck rules create -f rules.yaml
  flightdeck rules create -f continuous.json --url http://flightdeck:8181`,
	Args: cobra.NoArgs,
	RunE: runCreateRules,
}

var enableRuleCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], true)
	},
}

var disableRuleCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Disable a rule",
	Long:  `Disable a rule. With --clean its active recordings are stopped.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], false)
	},
}

var deleteRuleCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteRule,
}

var validateRulesCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a rule file without a server",
	Long: `Validate rule definitions locally: required fields, match expression
syntax, event specifier and archival settings.

Examples:
  flightdeck rules validate rules.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateRules,
}

var (
	ruleFile  string
	ruleClean bool
)

func init() {
	rulesCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	createRulesCmd.Flags().StringVarP(&ruleFile, "file", "f", "", "rule file")
	_ = createRulesCmd.MarkFlagRequired("file") //nolint:errcheck
	disableRuleCmd.Flags().BoolVar(&ruleClean, "clean", false, "stop the rule's active recordings")
	deleteRuleCmd.Flags().BoolVar(&ruleClean, "clean", false, "stop the rule's active recordings")

	rulesCmd.AddCommand(listRulesCmd)
	rulesCmd.AddCommand(createRulesCmd)
	rulesCmd.AddCommand(enableRuleCmd)
	rulesCmd.AddCommand(disableRuleCmd)
	rulesCmd.AddCommand(deleteRuleCmd)
	rulesCmd.AddCommand(validateRulesCmd)
}

func runListRules(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	list, err := c.ListRules(ctx)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(os.Stdout, list)
	}

	w := newTable(os.Stdout)
	fmt.Fprintln(w, "NAME\tENABLED\tMATCH EXPRESSION\tEVENTS\tARCHIVAL")
	for _, r := range list {
		archival := "-"
		if r.HasArchival() {
			archival = fmt.Sprintf("every %ds, keep %d", r.ArchivalPeriodSeconds, r.PreservedArchives)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", r.Name, r.Enabled, r.MatchExpression, r.EventSpecifier, archival)
	}
	return w.Flush()
}

func readRuleFile(path string) ([]models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	list, err := rules.ParseRules(data)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s defines no rules", path)
	}
	return list, nil
}

func runCreateRules(cmd *cobra.Command, args []string) error {
	list, err := readRuleFile(ruleFile)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	failed := 0
	for _, r := range list {
		name, err := c.CreateRule(ctx, r)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", r.Name, err)
			failed++
			continue
		}
		fmt.Printf("✓ Created rule %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rules were not created", failed, len(list))
	}
	return nil
}

func setRuleEnabled(name string, enabled bool) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	r, err := c.SetRuleEnabled(ctx, name, enabled, ruleClean)
	if err != nil {
		return err
	}
	state := "disabled"
	if r.Enabled {
		state = "enabled"
	}
	fmt.Printf("✓ Rule %s %s\n", r.Name, state)
	return nil
}

func runDeleteRule(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	if err := c.DeleteRule(ctx, args[0], ruleClean); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted rule %s\n", args[0])
	return nil
}

func runValidateRules(cmd *cobra.Command, args []string) error {
	list, err := readRuleFile(args[0])
	if err != nil {
		return err
	}

	ev := matchexpr.NewEvaluator()
	invalid := 0
	for i := range list {
		r := list[i]
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("rule #%d", i+1)
		}
		if err := rules.Normalize(&r, ev); err != nil {
			fmt.Printf("✗ %s: %v\n", label, err)
			invalid++
			continue
		}
		fmt.Printf("✓ %s\n", r.Name)
	}

	if invalid > 0 {
		return fmt.Errorf("validation failed: %d of %d rules invalid", invalid, len(list))
	}
	fmt.Println("✓ All rules are valid")
	return nil
}
