package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rustic-ai/moth/packages/harness"
)

// JSONFormatter emits the full suite result as a single machine-readable
// JSON document.
type JSONFormatter struct {
	writer io.Writer
	pretty bool
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{writer: os.Stdout, pretty: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func WithJSONWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) { f.writer = w }
}

func WithCompact() JSONOption {
	return func(f *JSONFormatter) { f.pretty = false }
}

func (f *JSONFormatter) Format(result *harness.SuiteResult) error {
	enc := json.NewEncoder(f.writer)
	if f.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
