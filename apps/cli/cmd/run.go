package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustic-ai/moth/packages/config"
	"github.com/rustic-ai/moth/packages/executor"
	"github.com/rustic-ai/moth/packages/harness"
	"github.com/rustic-ai/moth/packages/history"
	"github.com/rustic-ai/moth/packages/output"
	"github.com/rustic-ai/moth/packages/script"
	"github.com/rustic-ai/moth/packages/spec"
	"github.com/rustic-ai/moth/packages/validation"
)

var runCmd = &cobra.Command{
	Use:   "run <suite.yaml>",
	Short: "Run a test suite against an MCP server",
	Long: `Run the test suite in the given YAML (or JSON) file. The server
declared in the suite is launched over stdio or dialed over HTTP, each
tool test is executed in dependency order, and responses are validated
against the suite's expectations.

Examples:
  moth run suite.yaml
  moth run suite.yaml --parallel --concurrency 8
  moth run suite.yaml --bail --output junit --output-file report.xml
  moth run suite.yaml --tags smoke --retries 2
  moth run suite.yaml --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

// WatchDebounceDelay is the debounce delay for file watch events
const WatchDebounceDelay = 300 * time.Millisecond

var (
	configFlag        string
	nameFlag          string
	tagsFlag          string
	verboseFlag       int
	quietFlag         bool
	bailFlag          bool
	noColorFlag       bool
	dryRunFlag        bool
	outputFlag        string
	outputFileFlag    string
	parallelFlag      bool
	concurrencyFlag   int
	watchFlag         bool
	timeoutFlag       string
	retriesFlag       int
	retryDelayFlag    string
	retryStrategyFlag string
	strictFlag        bool
	failOnScriptFlag  bool
	rateFlag          float64
	historyDBFlag     string
)

func init() {
	runCmd.Flags().StringVar(&configFlag, "config", getEnvString("MOTH_CONFIG", ""), "Path to config file (env: MOTH_CONFIG)")
	runCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Run only tests matching name substring")
	runCmd.Flags().StringVarP(&tagsFlag, "tags", "t", getEnvString("MOTH_TAGS", ""), "Run only tests with specified tags (comma-separated) (env: MOTH_TAGS)")

	runCmd.Flags().CountVarP(&verboseFlag, "verbose", "v", "Verbose output (-v, -vv for more detail)")
	runCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", getEnvBool("MOTH_QUIET", false), "Suppress all output except errors (env: MOTH_QUIET)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("MOTH_NO_COLOR", false), "Disable colored output (env: MOTH_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("MOTH_OUTPUT", "console"), "Output format: console, json, junit, tap (env: MOTH_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("MOTH_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: MOTH_OUTPUT_FILE)")

	runCmd.Flags().BoolVar(&bailFlag, "bail", getEnvBool("MOTH_BAIL", false), "Stop on first failure (env: MOTH_BAIL)")
	runCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Resolve and show execution order without running")
	runCmd.Flags().BoolVarP(&parallelFlag, "parallel", "p", getEnvBool("MOTH_PARALLEL", false), "Run independent tests concurrently (env: MOTH_PARALLEL)")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", getEnvInt("MOTH_CONCURRENCY", 0), "Concurrent tests in parallel mode (env: MOTH_CONCURRENCY)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch the suite file for changes and re-run")

	runCmd.Flags().StringVar(&timeoutFlag, "timeout", getEnvString("MOTH_TIMEOUT", ""), "Default per-test timeout, e.g. 10s (env: MOTH_TIMEOUT)")
	runCmd.Flags().IntVar(&retriesFlag, "retries", getEnvInt("MOTH_RETRIES", -1), "Retries per failed test (env: MOTH_RETRIES)")
	runCmd.Flags().StringVar(&retryDelayFlag, "retry-delay", getEnvString("MOTH_RETRY_DELAY", ""), "Delay between retries, e.g. 500ms (env: MOTH_RETRY_DELAY)")
	runCmd.Flags().StringVar(&retryStrategyFlag, "retry-strategy", getEnvString("MOTH_RETRY_STRATEGY", ""), "Retry backoff: fixed or exponential (env: MOTH_RETRY_STRATEGY)")

	runCmd.Flags().BoolVar(&strictFlag, "strict", getEnvBool("MOTH_STRICT", false), "Treat extra response fields as errors (env: MOTH_STRICT)")
	runCmd.Flags().BoolVar(&failOnScriptFlag, "fail-on-script-error", getEnvBool("MOTH_FAIL_ON_SCRIPT_ERROR", false), "Treat script sandbox failures as validation errors (env: MOTH_FAIL_ON_SCRIPT_ERROR)")
	runCmd.Flags().Float64Var(&rateFlag, "rate", 0, "Cap tool calls per second (0 = unlimited)")
	runCmd.Flags().StringVar(&historyDBFlag, "history-db", getEnvString("MOTH_HISTORY_DB", ""), "SQLite file for run history (env: MOTH_HISTORY_DB)")
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func runCommand(cmd *cobra.Command, args []string) error {
	suitePath := args[0]

	fileConfig, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	setupLogging()

	engineCfg, err := buildEngineConfig(fileConfig)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config error: %v\n", err)
		os.Exit(ExitConfigError)
	}

	formatter, cleanup, err := buildFormatter()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRunFlag {
		return dryRun(cmd, suitePath)
	}

	runOnce := func() (*harness.SuiteResult, error) {
		return executeSuite(ctx, suitePath, engineCfg, fileConfig)
	}

	result, err := runOnce()
	if err != nil {
		reportSuiteError(cmd, err)
	}
	if err := formatter.Format(result); err != nil {
		return err
	}
	saveHistory(ctx, cmd, result, fileConfig)

	if !watchFlag {
		if !result.Ok() {
			os.Exit(ExitTestFailure)
		}
		return nil
	}

	return watchLoop(ctx, cmd, suitePath, formatter, runOnce, func(r *harness.SuiteResult) {
		saveHistory(ctx, cmd, r, fileConfig)
	})
}

func setupLogging() {
	logrus.SetOutput(os.Stderr)
	switch {
	case quietFlag:
		logrus.SetLevel(logrus.ErrorLevel)
	case verboseFlag >= 2:
		logrus.SetLevel(logrus.DebugLevel)
	case verboseFlag == 1:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
}

func buildEngineConfig(fileConfig *config.Config) (harness.Config, error) {
	cfg := harness.Config{
		FailFast:       bailFlag || fileConfig.GetBail(),
		MaxConcurrency: fileConfig.Concurrency,
		Validation: validation.Config{
			StrictMode:    strictFlag || fileConfig.GetStrict(),
			CacheCapacity: fileConfig.CacheCapacity,
		},
		Script: script.Config{
			FailOnScriptError: failOnScriptFlag || fileConfig.GetFailOnScript(),
		},
	}

	if parallelFlag || fileConfig.GetParallel() {
		cfg.Mode = harness.ModeParallel
	}
	if concurrencyFlag > 0 {
		cfg.MaxConcurrency = concurrencyFlag
	}

	if fileConfig.TimeoutMs > 0 {
		cfg.DefaultTimeout = time.Duration(fileConfig.TimeoutMs) * time.Millisecond
	}
	if timeoutFlag != "" {
		d, err := time.ParseDuration(timeoutFlag)
		if err != nil {
			return cfg, fmt.Errorf("invalid timeout %q: %w", timeoutFlag, err)
		}
		cfg.DefaultTimeout = d
	}

	retry := harness.RetryPolicy{
		MaxRetries: fileConfig.Retries,
		Delay:      time.Duration(fileConfig.RetryDelayMs) * time.Millisecond,
		Strategy:   harness.BackoffStrategy(fileConfig.RetryStrategy),
	}
	if retriesFlag >= 0 {
		retry.MaxRetries = retriesFlag
	}
	if retryDelayFlag != "" {
		d, err := time.ParseDuration(retryDelayFlag)
		if err != nil {
			return cfg, fmt.Errorf("invalid retry delay %q: %w", retryDelayFlag, err)
		}
		retry.Delay = d
	}
	if retryStrategyFlag != "" {
		switch retryStrategyFlag {
		case "fixed", "exponential":
			retry.Strategy = harness.BackoffStrategy(retryStrategyFlag)
		default:
			return cfg, fmt.Errorf("invalid retry strategy %q (use fixed or exponential)", retryStrategyFlag)
		}
	}
	cfg.Retry = retry
	return cfg, nil
}

func buildFormatter() (output.Formatter, func(), error) {
	cleanup := func() {}
	var outWriter *os.File
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return nil, cleanup, fmt.Errorf("cannot create output file: %w", err)
		}
		outWriter = f
		cleanup = func() { _ = f.Close() }
	}

	switch strings.ToLower(outputFlag) {
	case "json":
		opts := []output.JSONOption{}
		if outWriter != nil {
			opts = append(opts, output.WithJSONWriter(outWriter))
		}
		return output.NewJSONFormatter(opts...), cleanup, nil
	case "junit":
		opts := []output.JUnitOption{}
		if outWriter != nil {
			opts = append(opts, output.JUnitWithWriter(outWriter))
		}
		return output.NewJUnitFormatter(opts...), cleanup, nil
	case "tap":
		opts := []output.TAPOption{}
		if outWriter != nil {
			opts = append(opts, output.TAPWithWriter(outWriter))
		}
		return output.NewTAPFormatter(opts...), cleanup, nil
	default:
		opts := []output.ConsoleOption{
			output.WithVerbose(verboseFlag > 0),
			output.WithNoColor(noColorFlag || quietFlag),
		}
		if outWriter != nil {
			opts = append(opts, output.WithWriter(outWriter))
		}
		return output.NewConsoleFormatter(opts...), cleanup, nil
	}
}

// executeSuite wires the executor lifecycle around one engine run: load the
// suite, start the server, run, shut down.
func executeSuite(ctx context.Context, path string, cfg harness.Config, fileConfig *config.Config) (*harness.SuiteResult, error) {
	loader := spec.NewFileLoader()
	s, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	applyFilters(s)

	rps := rateFlag
	if rps == 0 {
		rps = fileConfig.RateLimit
	}
	exec := executor.New(s.Server, executor.WithRateLimit(rps))
	if err := exec.Connect(ctx); err != nil {
		return nil, fmt.Errorf("server startup: %w", err)
	}
	defer func() {
		if err := exec.Close(); err != nil {
			logrus.WithError(err).Warn("server shutdown")
		}
	}()

	engine := harness.NewEngine(loader, exec, cfg, script.NewWasmBackend())
	result, err := engine.Run(ctx, s)
	if result != nil {
		result.SpecPath = path
	}
	return result, err
}

// applyFilters marks tests excluded by --name/--tags as skipped so their
// dependents are skipped too rather than silently run out of order.
func applyFilters(s *spec.Specification) {
	if nameFlag == "" && tagsFlag == "" {
		return
	}
	var tags []string
	for _, t := range strings.Split(tagsFlag, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	for ti := range s.Tools {
		for i := range s.Tools[ti].Tests {
			tc := &s.Tools[ti].Tests[i]
			if tc.Skip != "" {
				continue
			}
			if nameFlag != "" && !strings.Contains(tc.Name, nameFlag) {
				tc.Skip = "filtered out"
				continue
			}
			if len(tags) > 0 && !hasAnyTag(tc.Tags, tags) {
				tc.Skip = "filtered out"
			}
		}
	}
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func saveHistory(ctx context.Context, cmd *cobra.Command, result *harness.SuiteResult, fileConfig *config.Config) {
	dbPath := historyDBFlag
	if dbPath == "" {
		dbPath = fileConfig.HistoryDB
	}
	if dbPath == "" {
		return
	}
	store, err := history.Open(dbPath)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: history db: %v\n", err)
		return
	}
	defer store.Close()
	if _, err := store.Save(ctx, result); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: saving run history: %v\n", err)
	}
}

func reportSuiteError(cmd *cobra.Command, err error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	switch harness.Classify(err) {
	case harness.KindIo, harness.KindParse, harness.KindSpec, harness.KindDependency:
		os.Exit(ExitSpecError)
	default:
		os.Exit(ExitServerError)
	}
}

func dryRun(cmd *cobra.Command, path string) error {
	s, err := spec.NewFileLoader().Load(path)
	if err != nil {
		reportSuiteError(cmd, err)
	}
	applyFilters(s)

	order, err := resolveOrder(s)
	if err != nil {
		reportSuiteError(cmd, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Suite %s: %d tests\n", s.Name, len(order))
	for i, name := range order {
		fmt.Fprintf(cmd.OutOrStdout(), "  %2d. %s\n", i+1, name)
	}
	return nil
}

func watchLoop(ctx context.Context, cmd *cobra.Command, suitePath string, formatter output.Formatter,
	runOnce func() (*harness.SuiteResult, error), afterRun func(*harness.SuiteResult)) error {

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(suitePath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", suitePath, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var debounceTimer *time.Timer
	abs, _ := filepath.Abs(suitePath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			changed, _ := filepath.Abs(event.Name)
			if !event.Has(fsnotify.Write) || changed != abs {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "\nFile changed: %s\nRe-running suite...\n\n", event.Name)
				result, err := runOnce()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
					return
				}
				_ = formatter.Format(result)
				afterRun(result)
				fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n")
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watcher error: %v\n", err)
		}
	}
}
