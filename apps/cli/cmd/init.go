package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rustic-ai/moth/packages/config"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new moth project",
	Long: `Initialize a new moth project in the current directory.

This creates:
  - .moth.config.json  - Runner configuration
  - example.yaml       - Example test suite

Examples:
  moth init
  moth init --force`,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

const exampleSuite = `name: example-server
version: "1.0.0"
description: Example suite. Point the server block at your MCP server.
capabilities:
  tools: true
server:
  command: ./my-mcp-server
  args: ["--stdio"]
  transport: stdio
  startup_timeout_seconds: 10
tools:
  - name: echo
    tests:
      - name: echo_roundtrip
        description: The server echoes its input back
        input:
          message: hello
        expected:
          error: false
          fields:
            - path: $.content[0].text
              value: hello
              required: true
      - name: echo_empty
        dependencies: [echo_roundtrip]
        input:
          message: ""
        expected:
          error: false
`

func initCommand(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	configFile := filepath.Join(cwd, ".moth.config.json")
	exampleFile := filepath.Join(cwd, "example.yaml")

	if !forceInit {
		for _, f := range []string{configFile, exampleFile} {
			if _, err := os.Stat(f); err == nil {
				return fmt.Errorf("file already exists: %s (use --force to overwrite)", f)
			}
		}
	}

	if err := config.Default().Write(configFile); err != nil {
		return fmt.Errorf("writing %s: %w", configFile, err)
	}
	if err := os.WriteFile(exampleFile, []byte(exampleSuite), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", exampleFile, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", configFile)
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", exampleFile)
	fmt.Fprintf(cmd.OutOrStdout(), "\nEdit example.yaml, then run: moth run example.yaml\n")
	return nil
}
