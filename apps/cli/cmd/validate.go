package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustic-ai/moth/packages/deps"
	"github.com/rustic-ai/moth/packages/spec"
)

var validateCmd = &cobra.Command{
	Use:   "validate <suite.yaml>...",
	Short: "Validate suite files without running them",
	Long: `Validate test suite files: syntax, semantic rules, and dependency
graph resolution. Nothing is executed.

Examples:
  moth validate suite.yaml
  moth validate suites/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	loader := spec.NewFileLoader()
	hasErrors := false

	for _, file := range args {
		s, err := loader.Load(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		if _, err := deps.Resolve(s.TestCases()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s (%d tools, %d tests, %d scripts)\n",
			file, len(s.Tools), len(s.TestCases()), len(s.ValidationScripts))
	}

	if hasErrors {
		os.Exit(ExitSpecError)
	}
	return nil
}

// resolveOrder returns the execution order for a loaded suite.
func resolveOrder(s *spec.Specification) ([]string, error) {
	res, err := deps.Resolve(s.TestCases())
	if err != nil {
		return nil, err
	}
	return res.ExecutionOrder, nil
}
