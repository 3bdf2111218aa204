package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustic-ai/moth/packages/script"
	"github.com/rustic-ai/moth/packages/spec"
	"github.com/rustic-ai/moth/packages/validation"
)

// scriptedExecutor returns canned executions keyed by test name and records
// call order.
type scriptedExecutor struct {
	mu        sync.Mutex
	responses map[string]*Execution
	errs      map[string]error
	calls     []string
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		responses: make(map[string]*Execution),
		errs:      make(map[string]error),
	}
}

func (s *scriptedExecutor) Execute(_ context.Context, _ string, tc *spec.TestCase) (*Execution, error) {
	s.mu.Lock()
	s.calls = append(s.calls, tc.Name)
	s.mu.Unlock()

	if err, ok := s.errs[tc.Name]; ok {
		return nil, err
	}
	if exec, ok := s.responses[tc.Name]; ok {
		return exec, nil
	}
	return &Execution{Response: json.RawMessage(`{"ok":true}`), Duration: time.Millisecond}, nil
}

func ok(body string) *Execution {
	return &Execution{Response: json.RawMessage(body), Duration: time.Millisecond}
}

// memLoader serves an in-memory specification, standing in for FileLoader.
type memLoader struct{ s *spec.Specification }

func (l *memLoader) Load(string) (*spec.Specification, error) { return l.s, l.s.Validate() }

func suiteOf(tests ...spec.TestCase) *spec.Specification {
	return &spec.Specification{
		Name:  "suite",
		Tools: []spec.Tool{{Name: "tool", Tests: tests}},
	}
}

func passAssertion() spec.ExpectedOutput {
	return spec.ExpectedOutput{
		AllowExtraFields: true,
		Fields:           []spec.FieldValidation{{Path: "$.ok", Value: true}},
	}
}

func failAssertion() spec.ExpectedOutput {
	return spec.ExpectedOutput{
		AllowExtraFields: true,
		Fields:           []spec.FieldValidation{{Path: "$.ok", Value: "never"}},
	}
}

func TestEngine_AllPass(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "a", Expected: passAssertion()},
		spec.TestCase{Name: "b", Expected: passAssertion()},
		spec.TestCase{Name: "c", Expected: passAssertion()},
	)
	e := NewEngine(&memLoader{s}, newScriptedExecutor(), Config{})
	res, err := e.RunSuite(context.Background(), "suite.yaml")
	require.NoError(t, err)

	assert.True(t, res.Ok())
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Passed)
	assert.Zero(t, res.ErrorRate())
	assert.Len(t, res.Results, 3)
	assert.Equal(t, 1, res.Results[0].Attempts)
}

func TestEngine_CollectsAllFailures(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "a", Expected: failAssertion()},
		spec.TestCase{Name: "b", Expected: passAssertion()},
		spec.TestCase{Name: "c", Expected: failAssertion()},
	)
	e := NewEngine(&memLoader{s}, newScriptedExecutor(), Config{})
	res, err := e.RunSuite(context.Background(), "suite.yaml")
	require.NoError(t, err)

	assert.Len(t, res.Results, 3, "without fail-fast every test produces a result")
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Passed)
	assert.InDelta(t, 2.0/3.0, res.ErrorRate(), 1e-9)
}

func TestEngine_FailFastStopsAtFailure(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "a", Expected: passAssertion()},
		spec.TestCase{Name: "b", Expected: failAssertion()},
		spec.TestCase{Name: "c", Expected: passAssertion()},
	)
	ex := newScriptedExecutor()
	e := NewEngine(&memLoader{s}, ex, Config{FailFast: true})
	res, err := e.RunSuite(context.Background(), "suite.yaml")
	require.NoError(t, err)

	assert.Len(t, res.Results, 2, "exactly the tests up to and including the failure")
	assert.Equal(t, StatusFailed, res.Results[1].Status)
	assert.NotContains(t, ex.calls, "c")
}

func TestEngine_EmptySuiteIsValid(t *testing.T) {
	s := &spec.Specification{Name: "empty"}
	e := NewEngine(&memLoader{s}, newScriptedExecutor(), Config{})
	res, err := e.RunSuite(context.Background(), "suite.yaml")
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Zero(t, res.Total)
}

func TestEngine_DependencyOrderRespected(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "teardown", Dependencies: []string{"use"}, Expected: passAssertion()},
		spec.TestCase{Name: "use", Dependencies: []string{"setup"}, Expected: passAssertion()},
		spec.TestCase{Name: "setup", Expected: passAssertion()},
	)
	ex := newScriptedExecutor()
	e := NewEngine(&memLoader{s}, ex, Config{})
	_, err := e.RunSuite(context.Background(), "suite.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "use", "teardown"}, ex.calls)
}

func TestEngine_DependentSkippedWhenDependencyFails(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "setup", Expected: failAssertion()},
		spec.TestCase{Name: "use", Dependencies: []string{"setup"}, Expected: passAssertion()},
	)
	ex := newScriptedExecutor()
	e := NewEngine(&memLoader{s}, ex, Config{})
	res, err := e.RunSuite(context.Background(), "suite.yaml")
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, StatusSkipped, res.Results[1].Status)
	assert.Contains(t, res.Results[1].SkipReason, "setup")
	assert.NotContains(t, ex.calls, "use")
}

func TestEngine_SkipDirective(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "flaky", Skip: "tracked in #42", Expected: passAssertion()},
	)
	ex := newScriptedExecutor()
	e := NewEngine(&memLoader{s}, ex, Config{})
	res, err := e.RunSuite(context.Background(), "suite.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "tracked in #42", res.Results[0].SkipReason)
	assert.Empty(t, ex.calls)
	assert.True(t, res.Ok(), "skips do not fail the suite")
}

func TestEngine_ExpectedError(t *testing.T) {
	t.Run("tool error satisfies expectation", func(t *testing.T) {
		s := suiteOf(spec.TestCase{Name: "a", Expected: spec.ExpectedOutput{
			Error:                true,
			ErrorMessageContains: "not found",
			AllowExtraFields:     true,
		}})
		ex := newScriptedExecutor()
		ex.responses["a"] = &Execution{
			Response:     json.RawMessage(`{"error":"file not found"}`),
			ToolError:    true,
			ErrorMessage: "file not found",
		}
		res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
		require.NoError(t, err)
		assert.True(t, res.Ok())
	})

	t.Run("success when error expected fails", func(t *testing.T) {
		s := suiteOf(spec.TestCase{Name: "a", Expected: spec.ExpectedOutput{
			Error:            true,
			AllowExtraFields: true,
		}})
		res, err := NewEngine(&memLoader{s}, newScriptedExecutor(), Config{}).RunSuite(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	})

	t.Run("unexpected tool error fails", func(t *testing.T) {
		s := suiteOf(spec.TestCase{Name: "a", Expected: spec.ExpectedOutput{AllowExtraFields: true}})
		ex := newScriptedExecutor()
		ex.responses["a"] = &Execution{
			Response:     json.RawMessage(`{}`),
			ToolError:    true,
			ErrorMessage: "boom",
		}
		res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Contains(t, res.Results[0].Validation.Errors[0].Message, "boom")
	})

	t.Run("message mismatch fails", func(t *testing.T) {
		s := suiteOf(spec.TestCase{Name: "a", Expected: spec.ExpectedOutput{
			Error:                true,
			ErrorMessageContains: "permission denied",
			AllowExtraFields:     true,
		}})
		ex := newScriptedExecutor()
		ex.responses["a"] = &Execution{
			Response:     json.RawMessage(`{}`),
			ToolError:    true,
			ErrorMessage: "file not found",
		}
		res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	})
}

func TestEngine_ExpectedErrorCode(t *testing.T) {
	intPtr := func(i int) *int { return &i }
	expect := func(code int) spec.ExpectedOutput {
		return spec.ExpectedOutput{Error: true, ErrorCode: intPtr(code), AllowExtraFields: true}
	}

	t.Run("matching code passes", func(t *testing.T) {
		s := suiteOf(spec.TestCase{Name: "a", Expected: expect(-32602)})
		ex := newScriptedExecutor()
		ex.responses["a"] = &Execution{
			Response:     json.RawMessage(`{"error":{"code":-32602,"message":"invalid params"}}`),
			ToolError:    true,
			ErrorMessage: "invalid params",
		}
		res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
		require.NoError(t, err)
		assert.True(t, res.Ok())
	})

	t.Run("code mismatch fails", func(t *testing.T) {
		s := suiteOf(spec.TestCase{Name: "a", Expected: expect(-32602)})
		ex := newScriptedExecutor()
		ex.responses["a"] = &Execution{
			Response:     json.RawMessage(`{"error":{"code":-32601}}`),
			ToolError:    true,
			ErrorMessage: "method not found",
		}
		res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Contains(t, res.Results[0].Validation.Errors[0].Message, "error code mismatch")
	})

	t.Run("missing code fails", func(t *testing.T) {
		s := suiteOf(spec.TestCase{Name: "a", Expected: expect(-32602)})
		ex := newScriptedExecutor()
		ex.responses["a"] = &Execution{
			Response:     json.RawMessage(`{"error":"boom"}`),
			ToolError:    true,
			ErrorMessage: "boom",
		}
		res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	})
}

func TestEngine_DefaultTimeout(t *testing.T) {
	var deadlines []time.Time
	ex := ExecutorFunc(func(ctx context.Context, _ string, _ *spec.TestCase) (*Execution, error) {
		d, hasDeadline := ctx.Deadline()
		require.True(t, hasDeadline)
		deadlines = append(deadlines, d)
		return ok(`{"ok":true}`), nil
	})

	s := suiteOf(
		spec.TestCase{Name: "default", Expected: passAssertion()},
		spec.TestCase{Name: "declared", TimeoutSeconds: 60, Expected: passAssertion()},
	)
	cfg := Config{DefaultTimeout: 2 * time.Second}
	before := time.Now()
	_, err := NewEngine(&memLoader{s}, ex, cfg).RunSuite(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, deadlines, 2)

	assert.WithinDuration(t, before.Add(2*time.Second), deadlines[0], time.Second)
	// a declared timeout wins over the engine default
	assert.WithinDuration(t, before.Add(60*time.Second), deadlines[1], time.Second)
}

func TestEngine_TransportErrorIsStatusError(t *testing.T) {
	s := suiteOf(spec.TestCase{Name: "a", Expected: passAssertion()})
	ex := newScriptedExecutor()
	ex.errs["a"] = errors.New("broken pipe")
	res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errored)
	assert.Equal(t, StatusError, res.Results[0].Status)
	assert.Contains(t, res.Results[0].Error, "broken pipe")
	assert.False(t, res.Ok())
}

// failingBackend reports every script as failed without sandboxing.
type failingBackend struct{}

func (failingBackend) Language() string { return "wasm" }

func (failingBackend) Execute(context.Context, []byte, *script.ScriptContext, script.Limits) (*script.Outcome, error) {
	return &script.Outcome{Success: false, Message: "precondition not met"}, nil
}

func TestEngine_BeforeScriptErrorsKeptOnTransportError(t *testing.T) {
	s := suiteOf(spec.TestCase{Name: "a", Expected: passAssertion()})
	s.ValidationScripts = []spec.ValidationScript{{
		Name:           "pre",
		Language:       "wasm",
		ExecutionPhase: spec.PhaseBefore,
		Source:         "AGFzbQ==",
	}}
	ex := newScriptedExecutor()
	ex.errs["a"] = errors.New("broken pipe")

	e := NewEngine(&memLoader{s}, ex, Config{}, failingBackend{})
	res, err := e.RunSuite(context.Background(), "x")
	require.NoError(t, err)

	tr := res.Results[0]
	assert.Equal(t, StatusError, tr.Status)
	require.NotNil(t, tr.Validation, "before-phase findings survive the transport error")
	require.Len(t, tr.Validation.Errors, 1)
	assert.Contains(t, tr.Validation.Errors[0].Message, "pre")
}

func TestEngine_Retry(t *testing.T) {
	s := suiteOf(spec.TestCase{Name: "a", Expected: passAssertion()})
	attempts := 0
	ex := ExecutorFunc(func(_ context.Context, _ string, _ *spec.TestCase) (*Execution, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset")
		}
		return ok(`{"ok":true}`), nil
	})
	cfg := Config{Retry: RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}}
	res, err := NewEngine(&memLoader{s}, ex, cfg).RunSuite(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, 3, res.Results[0].Attempts)
}

func TestEngine_RetryExhaustion(t *testing.T) {
	s := suiteOf(spec.TestCase{Name: "a", Expected: passAssertion()})
	attempts := 0
	ex := ExecutorFunc(func(_ context.Context, _ string, _ *spec.TestCase) (*Execution, error) {
		attempts++
		return nil, errors.New("down")
	})
	cfg := Config{Retry: RetryPolicy{MaxRetries: 2, Delay: time.Millisecond}}
	res, err := NewEngine(&memLoader{s}, ex, cfg).RunSuite(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, StatusError, res.Results[0].Status)
}

func TestEngine_ParallelWaves(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "a", Expected: passAssertion()},
		spec.TestCase{Name: "b", Expected: passAssertion()},
		spec.TestCase{Name: "c", Dependencies: []string{"a", "b"}, Expected: passAssertion()},
	)
	ex := newScriptedExecutor()
	cfg := Config{Mode: ModeParallel, MaxConcurrency: 2}
	res, err := NewEngine(&memLoader{s}, ex, cfg).RunSuite(context.Background(), "x")
	require.NoError(t, err)

	assert.True(t, res.Ok())
	assert.Equal(t, 3, res.Passed)
	// c runs strictly after its wave predecessors
	assert.Equal(t, "c", ex.calls[2])
	// results come back in deterministic wave order regardless of scheduling
	names := []string{res.Results[0].Name, res.Results[1].Name, res.Results[2].Name}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestEngine_ParallelFailFastSkipsLaterWaves(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "a", Expected: failAssertion()},
		spec.TestCase{Name: "b", Expected: passAssertion()},
		spec.TestCase{Name: "c", Dependencies: []string{"a"}, Expected: passAssertion()},
	)
	ex := newScriptedExecutor()
	cfg := Config{Mode: ModeParallel, FailFast: true}
	res, err := NewEngine(&memLoader{s}, ex, cfg).RunSuite(context.Background(), "x")
	require.NoError(t, err)

	assert.Len(t, res.Results, 2, "first wave completes, second never starts")
	assert.NotContains(t, ex.calls, "c")
}

func TestEngine_ResultTimestamps(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "a", Expected: passAssertion()},
		spec.TestCase{Name: "b", Expected: passAssertion()},
		spec.TestCase{Name: "c", Expected: passAssertion()},
	)
	res, err := NewEngine(&memLoader{s}, newScriptedExecutor(), Config{}).RunSuite(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	for _, tr := range res.Results {
		assert.False(t, tr.StartedAt.IsZero())
		assert.False(t, tr.EndedAt.Before(tr.StartedAt))
	}
	// sequential mode: a later test never starts before an earlier one ends
	for i := 1; i < len(res.Results); i++ {
		assert.False(t, res.Results[i].StartedAt.Before(res.Results[i-1].EndedAt))
	}
}

// Parallel waves share one validation engine; every test compiles a distinct
// path and pattern so the run hammers the compiled-artifact cache from
// concurrent goroutines.
func TestEngine_ParallelSharedValidationCache(t *testing.T) {
	var tests []spec.TestCase
	for i := 0; i < 64; i++ {
		name := fmt.Sprintf("t%02d", i)
		tests = append(tests, spec.TestCase{
			Name: name,
			Expected: spec.ExpectedOutput{
				AllowExtraFields: true,
				Fields: []spec.FieldValidation{
					{Path: fmt.Sprintf("$.v%02d", i), Pattern: fmt.Sprintf("^x%02d$", i)},
				},
			},
		})
	}
	ex := ExecutorFunc(func(_ context.Context, _ string, tc *spec.TestCase) (*Execution, error) {
		body := fmt.Sprintf(`{"v%s":"x%s"}`, tc.Name[1:], tc.Name[1:])
		return ok(body), nil
	})

	s := suiteOf(tests...)
	cfg := Config{Mode: ModeParallel, MaxConcurrency: 16, Validation: validation.Config{CacheCapacity: 32}}
	res, err := NewEngine(&memLoader{s}, ex, cfg).RunSuite(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 64, res.Passed)
}

func TestEngine_SuiteFatalErrors(t *testing.T) {
	t.Run("dependency cycle", func(t *testing.T) {
		s := suiteOf(
			spec.TestCase{Name: "a", Dependencies: []string{"b"}},
			spec.TestCase{Name: "b", Dependencies: []string{"a"}},
		)
		_, err := NewEngine(&memLoader{s}, newScriptedExecutor(), Config{}).
			Run(context.Background(), s)
		var suiteErr *SuiteError
		require.ErrorAs(t, err, &suiteErr)
		assert.Equal(t, KindDependency, suiteErr.Kind)
	})

	t.Run("invalid specification", func(t *testing.T) {
		bad := &memLoader{&spec.Specification{}}
		_, err := NewEngine(bad, newScriptedExecutor(), Config{}).
			RunSuite(context.Background(), "bad.yaml")
		var suiteErr *SuiteError
		require.ErrorAs(t, err, &suiteErr)
		assert.Equal(t, KindSpec, suiteErr.Kind)
	})
}

func TestEngine_MetricsSummary(t *testing.T) {
	s := suiteOf(
		spec.TestCase{Name: "a", Expected: passAssertion()},
		spec.TestCase{Name: "b", Expected: passAssertion()},
	)
	ex := newScriptedExecutor()
	ex.responses["a"] = &Execution{Response: json.RawMessage(`{"ok":true}`), Duration: 5 * time.Millisecond}
	ex.responses["b"] = &Execution{Response: json.RawMessage(`{"ok":true}`), Duration: 50 * time.Millisecond}

	res, err := NewEngine(&memLoader{s}, ex, Config{}).RunSuite(context.Background(), "x")
	require.NoError(t, err)

	m := res.Metrics
	assert.Equal(t, "b", m.SlowestTest)
	assert.Equal(t, "a", m.FastestTest)
	assert.Equal(t, 50*time.Millisecond, m.SlowestDuration)
	assert.InDelta(t, 1.0, m.PassRate, 1e-9)
	assert.Positive(t, m.AverageDuration)
	assert.Positive(t, m.PeakHeapBytes)
	assert.GreaterOrEqual(t, m.P95, m.P50)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	fixed := RetryPolicy{MaxRetries: 3, Delay: 100 * time.Millisecond, Strategy: BackoffFixed}
	assert.Equal(t, 100*time.Millisecond, fixed.Backoff(1))
	assert.Equal(t, 100*time.Millisecond, fixed.Backoff(3))

	exp := RetryPolicy{MaxRetries: 5, Delay: 100 * time.Millisecond, Strategy: BackoffExponential}
	assert.Equal(t, 100*time.Millisecond, exp.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, exp.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, exp.Backoff(3))

	capped := RetryPolicy{MaxRetries: 5, Delay: 100 * time.Millisecond, Strategy: BackoffExponential, MaxDelay: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, capped.Backoff(3))

	none := RetryPolicy{}
	assert.Equal(t, 1, none.Attempts())
	assert.Zero(t, none.Backoff(1))
}
