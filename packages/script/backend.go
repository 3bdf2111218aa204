package script

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScriptContext is the payload handed to a validation script on stdin. It
// carries everything a script may assert on: the request that produced the
// response, the response itself, and suite metadata.
type ScriptContext struct {
	ExecutionID  string          `json:"execution_id"`
	TestName     string          `json:"test_name"`
	ToolName     string          `json:"tool_name"`
	Phase        string          `json:"phase"`
	Request      json.RawMessage `json:"request,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Capabilities map[string]any  `json:"capabilities,omitempty"`
}

// NewScriptContext builds a context with a fresh execution id.
func NewScriptContext(testName, toolName, phase string) *ScriptContext {
	return &ScriptContext{
		ExecutionID: uuid.NewString(),
		TestName:    testName,
		ToolName:    toolName,
		Phase:       phase,
	}
}

// Outcome is the structured result a script writes to stdout. A script that
// exits non-zero without producing an outcome is treated as failed with its
// stderr as the message.
type Outcome struct {
	Success  bool   `json:"success"`
	Field    string `json:"field,omitempty"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Message  string `json:"message,omitempty"`

	// Measured by the backend, not reported by the script.
	Logs       string        `json:"-"`
	Duration   time.Duration `json:"-"`
	MemoryUsed uint64        `json:"-"`
}

// Limits bounds the resources one script execution may consume.
type Limits struct {
	Timeout     time.Duration
	MemoryPages uint32 // 64KiB wasm pages
}

// DefaultLimits is applied when a limit field is zero.
var DefaultLimits = Limits{
	Timeout:     5 * time.Second,
	MemoryPages: 256, // 16MiB
}

func (l Limits) orDefaults() Limits {
	if l.Timeout <= 0 {
		l.Timeout = DefaultLimits.Timeout
	}
	if l.MemoryPages == 0 {
		l.MemoryPages = DefaultLimits.MemoryPages
	}
	return l
}

// Backend executes one script in a sandbox and reports its outcome. Execute
// must honor ctx cancellation; a timeout or resource breach surfaces as a
// non-nil error, not a failed Outcome.
type Backend interface {
	Language() string
	Execute(ctx context.Context, source []byte, sc *ScriptContext, limits Limits) (*Outcome, error)
}
