package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustic-ai/moth/packages/spec"
)

var listJSONFlag bool

var listCmd = &cobra.Command{
	Use:   "list <suite.yaml>",
	Short: "List the tests in a suite",
	Long: `List the tools and tests defined in a suite file, with their tags
and dependencies.

Examples:
  moth list suite.yaml
  moth list suite.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: listCommand,
}

func init() {
	listCmd.Flags().BoolVar(&listJSONFlag, "json", false, "Emit the listing as JSON")
}

func listCommand(cmd *cobra.Command, args []string) error {
	s, err := spec.NewFileLoader().Load(args[0])
	if err != nil {
		reportSuiteError(cmd, err)
	}

	if listJSONFlag {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s.TestCases())
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%s (%s)\n", s.Name, s.Version)
	for _, tool := range s.Tools {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s:\n", tool.Name)
		for _, tc := range tool.Tests {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", tc.Name)
			if len(tc.Tags) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "    tags: %s\n", strings.Join(tc.Tags, ", "))
			}
			if len(tc.Dependencies) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "    depends on: %s\n", strings.Join(tc.Dependencies, ", "))
			}
			if tc.Skip != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "    skip: %s\n", tc.Skip)
			}
		}
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
