// Package output renders suite results for humans and CI systems.
package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/rustic-ai/moth/packages/harness"
)

// Formatter renders one suite result to its writer.
type Formatter interface {
	Format(result *harness.SuiteResult) error
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) { f.writer = w }
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) { f.verbose = v }
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) { f.noColor = nc }
}

func (f *ConsoleFormatter) Format(result *harness.SuiteResult) error {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n\n", bold("Suite: "+result.SpecName))

	for _, r := range result.Results {
		switch r.Status {
		case harness.StatusSkipped:
			fmt.Fprintf(f.writer, "  %s %s", yellow("-"), r.Name)
			if r.SkipReason != "" {
				fmt.Fprintf(f.writer, " (%s)", r.SkipReason)
			}
			fmt.Fprintln(f.writer)
		case harness.StatusError:
			fmt.Fprintf(f.writer, "  %s %s %s\n", red("x"), r.Name, red("("+r.Error+")"))
		case harness.StatusPassed:
			fmt.Fprintf(f.writer, "  %s %s %s\n", green("✓"), r.Name,
				cyan(fmt.Sprintf("(%dms)", r.Duration.Milliseconds())))
		case harness.StatusFailed:
			fmt.Fprintf(f.writer, "  %s %s %s\n", red("✗"), r.Name,
				cyan(fmt.Sprintf("(%dms)", r.Duration.Milliseconds())))
			f.printValidation(&r, red)
		}

		if f.verbose && r.Attempts > 1 {
			fmt.Fprintf(f.writer, "      %s\n", yellow(fmt.Sprintf("retried, %d attempts", r.Attempts)))
		}
	}

	fmt.Fprintln(f.writer)
	summary := fmt.Sprintf("%d passed, %d failed, %d errored, %d skipped (%d total)",
		result.Passed, result.Failed, result.Errored, result.Skipped, result.Total)
	if result.Ok() {
		fmt.Fprintf(f.writer, "%s %s\n", green(bold("PASS")), summary)
	} else {
		fmt.Fprintf(f.writer, "%s %s\n", red(bold("FAIL")), summary)
	}

	m := result.Metrics
	fmt.Fprintf(f.writer, "  duration %s, avg %s, p95 %s",
		m.TotalDuration.Round(time.Millisecond),
		m.AverageDuration.Round(time.Millisecond),
		m.P95.Round(time.Millisecond))
	if m.SlowestTest != "" {
		fmt.Fprintf(f.writer, ", slowest %s (%s)", m.SlowestTest, m.SlowestDuration.Round(time.Millisecond))
	}
	fmt.Fprintln(f.writer)
	return nil
}

func (f *ConsoleFormatter) printValidation(r *harness.TestResult, red func(...any) string) {
	if r.Validation == nil {
		return
	}
	for _, e := range r.Validation.Errors {
		fmt.Fprintf(f.writer, "      %s %s: %s\n", red("·"), e.Path, e.Message)
		if e.Expected != nil || e.Actual != nil {
			fmt.Fprintf(f.writer, "        expected: %v\n        actual:   %v\n", e.Expected, e.Actual)
		}
	}
	if f.verbose {
		for _, w := range r.Validation.Warnings {
			fmt.Fprintf(f.writer, "      ! %s\n", w)
		}
	}
}
