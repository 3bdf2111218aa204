package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rustic-ai/moth/packages/harness"
)

// TAPFormatter emits suite results in Test Anything Protocol version 13.
type TAPFormatter struct {
	writer io.Writer
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) { f.writer = w }
}

func (f *TAPFormatter) Format(result *harness.SuiteResult) error {
	fmt.Fprintf(f.writer, "TAP version 13\n")
	fmt.Fprintf(f.writer, "1..%d\n", len(result.Results))

	for i, r := range result.Results {
		number := i + 1
		switch r.Status {
		case harness.StatusSkipped:
			reason := r.SkipReason
			if reason == "" {
				reason = "SKIP"
			}
			fmt.Fprintf(f.writer, "ok %d - %s # SKIP %s\n", number, r.Name, reason)
		case harness.StatusError:
			fmt.Fprintf(f.writer, "not ok %d - %s\n", number, r.Name)
			fmt.Fprintf(f.writer, "  ---\n")
			fmt.Fprintf(f.writer, "  message: %s\n", escapeYAML(r.Error))
			fmt.Fprintf(f.writer, "  severity: error\n")
			fmt.Fprintf(f.writer, "  ...\n")
		case harness.StatusPassed:
			fmt.Fprintf(f.writer, "ok %d - %s\n", number, r.Name)
		case harness.StatusFailed:
			fmt.Fprintf(f.writer, "not ok %d - %s\n", number, r.Name)
			if r.Validation != nil && len(r.Validation.Errors) > 0 {
				fmt.Fprintf(f.writer, "  ---\n")
				fmt.Fprintf(f.writer, "  failures:\n")
				for _, e := range r.Validation.Errors {
					fmt.Fprintf(f.writer, "    - %s\n", escapeYAML(e.Path+": "+e.Message))
				}
				fmt.Fprintf(f.writer, "  ...\n")
			}
		}
	}

	fmt.Fprintln(f.writer)
	return nil
}

func escapeYAML(s string) string {
	// Simple YAML escaping - wrap in quotes if contains special chars
	if strings.ContainsAny(s, ":\n\"'[]{}#&*!|>%@`") {
		s = strings.ReplaceAll(s, "\"", "\\\"")
		return "\"" + s + "\""
	}
	return s
}
