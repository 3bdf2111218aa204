package spec

import "time"

// Specification is the root of a moth test specification: the server under
// test, its declared capabilities, and the tools with their test cases.
type Specification struct {
	Name              string             `yaml:"name" json:"name"`
	Version           string             `yaml:"version" json:"version"`
	Description       string             `yaml:"description,omitempty" json:"description,omitempty"`
	Capabilities      Capabilities       `yaml:"capabilities" json:"capabilities"`
	Server            ServerConfig       `yaml:"server" json:"server"`
	Tools             []Tool             `yaml:"tools" json:"tools"`
	ValidationScripts []ValidationScript `yaml:"validation_scripts,omitempty" json:"validation_scripts,omitempty"`
}

// Capabilities declares what the server under test claims to support.
type Capabilities struct {
	Tools     bool `yaml:"tools" json:"tools"`
	Resources bool `yaml:"resources" json:"resources"`
	Prompts   bool `yaml:"prompts" json:"prompts"`
	Sampling  bool `yaml:"sampling" json:"sampling"`
	Logging   bool `yaml:"logging" json:"logging"`
}

// ServerConfig describes how to launch and reach the server under test.
type ServerConfig struct {
	Command                string            `yaml:"command" json:"command"`
	Args                   []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env                    map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkingDir             string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Transport              string            `yaml:"transport,omitempty" json:"transport,omitempty"` // "stdio" (default) or "http"
	URL                    string            `yaml:"url,omitempty" json:"url,omitempty"`
	StartupTimeoutSeconds  int               `yaml:"startup_timeout_seconds,omitempty" json:"startup_timeout_seconds,omitempty"`
	ShutdownTimeoutSeconds int               `yaml:"shutdown_timeout_seconds,omitempty" json:"shutdown_timeout_seconds,omitempty"`
}

// StartupTimeout returns the configured startup timeout, defaulting to 30s.
func (s *ServerConfig) StartupTimeout() time.Duration {
	if s.StartupTimeoutSeconds > 0 {
		return time.Duration(s.StartupTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// Tool groups the test cases targeting one tool exposed by the server.
type Tool struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Tests       []TestCase `yaml:"tests" json:"tests"`
}

// TestCase is one named input/expected-output pair for a tool. The name is
// unique within a suite and doubles as the dependency-graph node id.
type TestCase struct {
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Input          map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Expected       ExpectedOutput `yaml:"expected" json:"expected"`
	Dependencies   []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Tags           []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Skip           string         `yaml:"skip,omitempty" json:"skip,omitempty"`
	TimeoutSeconds int            `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Timeout returns the per-test execution timeout, defaulting to 30s.
func (t *TestCase) Timeout() time.Duration {
	if t.TimeoutSeconds > 0 {
		return time.Duration(t.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// ExpectedOutput is the assertion set applied to a tool response.
type ExpectedOutput struct {
	Error                bool              `yaml:"error" json:"error"`
	ErrorCode            *int              `yaml:"error_code,omitempty" json:"error_code,omitempty"`
	ErrorMessageContains string            `yaml:"error_message_contains,omitempty" json:"error_message_contains,omitempty"`
	Schema               map[string]any    `yaml:"schema,omitempty" json:"schema,omitempty"`
	Fields               []FieldValidation `yaml:"fields,omitempty" json:"fields,omitempty"`
	AllowExtraFields     bool              `yaml:"allow_extra_fields,omitempty" json:"allow_extra_fields,omitempty"`
}

// FieldValidation is one assertion against a path-addressed value in the
// response. Exactly one validation mode is active, chosen by precedence:
// value, field_type, pattern, min/max, exists.
type FieldValidation struct {
	Path      string   `yaml:"path" json:"path"`
	Value     any      `yaml:"value,omitempty" json:"value,omitempty"`
	FieldType string   `yaml:"field_type,omitempty" json:"field_type,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Required  bool     `yaml:"required" json:"required"`
}

// ValidationMode identifies which comparison a FieldValidation performs.
type ValidationMode int

const (
	ModeExists ValidationMode = iota
	ModeEquals
	ModeType
	ModePattern
	ModeRange
)

func (m ValidationMode) String() string {
	switch m {
	case ModeEquals:
		return "equals"
	case ModeType:
		return "type"
	case ModePattern:
		return "pattern"
	case ModeRange:
		return "range"
	default:
		return "exists"
	}
}

// Mode returns the active validation mode per the precedence rules.
func (f *FieldValidation) Mode() ValidationMode {
	switch {
	case f.Value != nil:
		return ModeEquals
	case f.FieldType != "":
		return ModeType
	case f.Pattern != "":
		return ModePattern
	case f.Min != nil || f.Max != nil:
		return ModeRange
	default:
		return ModeExists
	}
}

// ExecutionPhase says when a validation script runs relative to standard
// field/schema validation.
type ExecutionPhase string

const (
	PhaseBefore ExecutionPhase = "before"
	PhaseAfter  ExecutionPhase = "after"
	PhaseBoth   ExecutionPhase = "both"
)

// ValidationScript is a user-supplied sandboxed script acting as an
// additional validator.
type ValidationScript struct {
	Name           string         `yaml:"name" json:"name"`
	Language       string         `yaml:"language" json:"language"`
	ExecutionPhase ExecutionPhase `yaml:"execution_phase,omitempty" json:"execution_phase,omitempty"`
	Required       bool           `yaml:"required" json:"required"`
	Source         string         `yaml:"source" json:"source"`
}

// Phase returns the script's execution phase, defaulting to after.
func (s *ValidationScript) Phase() ExecutionPhase {
	if s.ExecutionPhase == "" {
		return PhaseAfter
	}
	return s.ExecutionPhase
}

// RunsIn reports whether the script participates in the given phase.
func (s *ValidationScript) RunsIn(phase ExecutionPhase) bool {
	p := s.Phase()
	return p == phase || p == PhaseBoth
}

// TestCases flattens all tool-scoped test cases into one declaration-ordered
// list. An empty tool list yields an empty slice, not an error.
func (s *Specification) TestCases() []ToolTestCase {
	var cases []ToolTestCase
	for _, tool := range s.Tools {
		for _, tc := range tool.Tests {
			cases = append(cases, ToolTestCase{Tool: tool.Name, TestCase: tc})
		}
	}
	return cases
}

// ToolTestCase pairs a test case with the tool it targets.
type ToolTestCase struct {
	Tool string `json:"tool"`
	TestCase
}
