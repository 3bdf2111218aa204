package harness

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rustic-ai/moth/packages/spec"
)

// Execution is the raw result of invoking one tool call against the server
// under test. Err is a transport or protocol failure; ToolError means the
// call completed and the server flagged the result as an error, which a test
// may legitimately expect.
type Execution struct {
	Response     json.RawMessage
	ToolError    bool
	ErrorMessage string
	Duration     time.Duration
}

// TestCaseExecutor performs one tool call. Implementations own the transport
// (stdio process, HTTP endpoint); the engine owns ordering, retries, and
// validation. Execute must honor ctx deadlines.
type TestCaseExecutor interface {
	Execute(ctx context.Context, tool string, tc *spec.TestCase) (*Execution, error)
}

// ExecutorFunc adapts a function to TestCaseExecutor.
type ExecutorFunc func(ctx context.Context, tool string, tc *spec.TestCase) (*Execution, error)

func (f ExecutorFunc) Execute(ctx context.Context, tool string, tc *spec.TestCase) (*Execution, error) {
	return f(ctx, tool, tc)
}
