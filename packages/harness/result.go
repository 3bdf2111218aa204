package harness

import (
	"encoding/json"
	"time"

	"github.com/rustic-ai/moth/packages/validation"
)

// Status is the final disposition of one test case.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusError means the test could not be executed at all: transport
	// failure, timeout, or a crashed server process.
	StatusError Status = "error"
)

// TestResult records the outcome of one test case, including the validation
// detail when the test executed.
type TestResult struct {
	Name       string             `json:"name"`
	Tool       string             `json:"tool"`
	Status     Status             `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at"`
	Duration   time.Duration      `json:"duration"`
	Attempts   int                `json:"attempts"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	Validation *validation.Result `json:"validation,omitempty"`
	Response   json.RawMessage    `json:"response,omitempty"`
}

// Passed reports whether the test counts toward the suite's pass total.
func (r *TestResult) Passed() bool { return r.Status == StatusPassed }

// SuiteResult aggregates one full run.
type SuiteResult struct {
	SpecName  string        `json:"spec_name"`
	SpecPath  string        `json:"spec_path"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`

	Results []TestResult `json:"results"`
	Metrics Summary      `json:"metrics"`
}

// Ok reports whether the run is green: nothing failed or errored. A suite
// with zero tests is valid and Ok.
func (s *SuiteResult) Ok() bool {
	return s.Failed == 0 && s.Errored == 0
}

// ErrorRate is the share of executed tests that failed or errored.
func (s *SuiteResult) ErrorRate() float64 {
	executed := s.Total - s.Skipped
	if executed == 0 {
		return 0
	}
	return float64(s.Failed+s.Errored) / float64(executed)
}

func (s *SuiteResult) tally(r TestResult) {
	s.Total++
	switch r.Status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	case StatusError:
		s.Errored++
	}
	s.Results = append(s.Results, r)
}
