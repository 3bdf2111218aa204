package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rustic-ai/moth/packages/harness"
)

// JUnit XML structures

type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

type JUnitError struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFormatter emits suite results as JUnit XML for CI ingestion. Test
// cases are grouped into one testsuite per tool.
type JUnitFormatter struct {
	writer io.Writer
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) { f.writer = w }
}

func (f *JUnitFormatter) Format(result *harness.SuiteResult) error {
	byTool := make(map[string]*JUnitTestSuite)
	var order []string

	for _, r := range result.Results {
		suite, ok := byTool[r.Tool]
		if !ok {
			suite = &JUnitTestSuite{
				Name:      r.Tool,
				Timestamp: result.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			}
			byTool[r.Tool] = suite
			order = append(order, r.Tool)
		}

		tc := JUnitTestCase{
			Name:      r.Name,
			ClassName: result.SpecName + "." + r.Tool,
			Time:      r.Duration.Seconds(),
		}
		suite.Tests++
		suite.Time += r.Duration.Seconds()

		switch r.Status {
		case harness.StatusSkipped:
			suite.Skipped++
			tc.Skipped = &JUnitSkipped{Message: r.SkipReason}
		case harness.StatusError:
			suite.Errors++
			tc.Error = &JUnitError{Message: r.Error, Type: "ExecutionError"}
		case harness.StatusFailed:
			suite.Failures++
			tc.Failure = &JUnitFailure{
				Message: "validation failed",
				Type:    "ValidationError",
				Content: failureContent(&r),
			}
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	root := JUnitTestSuites{
		Name:      result.SpecName,
		Tests:     result.Total,
		Failures:  result.Failed,
		Errors:    result.Errored,
		Skipped:   result.Skipped,
		Time:      result.Duration.Seconds(),
		Timestamp: result.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, tool := range order {
		root.TestSuites = append(root.TestSuites, *byTool[tool])
	}

	fmt.Fprintf(f.writer, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	if err := encoder.Encode(root); err != nil {
		return err
	}
	fmt.Fprintln(f.writer)
	return nil
}

func failureContent(r *harness.TestResult) string {
	if r.Validation == nil {
		return ""
	}
	var b strings.Builder
	for _, e := range r.Validation.Errors {
		fmt.Fprintf(&b, "%s [%s]: %s", e.Path, e.Kind, e.Message)
		if e.Expected != nil || e.Actual != nil {
			fmt.Fprintf(&b, " (expected %v, got %v)", e.Expected, e.Actual)
		}
		b.WriteString("\n")
	}
	return b.String()
}
