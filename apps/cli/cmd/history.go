package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustic-ai/moth/packages/config"
	"github.com/rustic-ai/moth/packages/history"
	"github.com/rustic-ai/moth/packages/output"
)

var (
	historyLimitFlag  int
	historySpecFlag   string
	historyShowFlag   string
	historyDBPathFlag string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past suite runs",
	Long: `List or inspect runs recorded in the history database. Recording is
enabled with --history-db on the run command or historyDb in the config
file.

Examples:
  moth history --db runs.db
  moth history --db runs.db --spec filesystem-server --limit 10
  moth history --db runs.db --show <run-id>`,
	RunE: historyCommand,
}

func init() {
	historyCmd.Flags().StringVar(&historyDBPathFlag, "db", getEnvString("MOTH_HISTORY_DB", ""), "SQLite history file (env: MOTH_HISTORY_DB)")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum runs to list")
	historyCmd.Flags().StringVar(&historySpecFlag, "spec", "", "Only list runs of this suite")
	historyCmd.Flags().StringVar(&historyShowFlag, "show", "", "Show the full result of one run id")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	dbPath := historyDBPathFlag
	if dbPath == "" {
		if fileConfig, err := config.Load(""); err == nil {
			dbPath = fileConfig.HistoryDB
		}
	}
	if dbPath == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "no history database configured (use --db or historyDb in config)")
		os.Exit(ExitConfigError)
	}

	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	if historyShowFlag != "" {
		result, err := store.Load(ctx, historyShowFlag)
		if err != nil {
			return err
		}
		return output.NewConsoleFormatter(output.WithWriter(cmd.OutOrStdout())).Format(result)
	}

	runs, err := store.Recent(ctx, historySpecFlag, historyLimitFlag)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}

	for _, r := range runs {
		status := "PASS"
		if r.Failed > 0 || r.Errored > 0 {
			status = "FAIL"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-4s %s  %d/%d passed (%s)\n",
			r.ID, r.StartedAt.Format(time.RFC3339), status, r.SpecName,
			r.Passed, r.Total, r.Duration.Round(time.Millisecond))
	}
	return nil
}
