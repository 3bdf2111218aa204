package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/rustic-ai/moth/packages/deps"
	"github.com/rustic-ai/moth/packages/script"
	"github.com/rustic-ai/moth/packages/spec"
	"github.com/rustic-ai/moth/packages/validation"
)

// ExecutionMode selects how resolved tests are scheduled.
type ExecutionMode string

const (
	// ModeSequential runs tests one at a time in resolved order. Default.
	ModeSequential ExecutionMode = "sequential"
	// ModeParallel runs each dependency wave concurrently, bounded by
	// MaxConcurrency. Tests within a wave have no ordering constraints
	// between them.
	ModeParallel ExecutionMode = "parallel"
)

// Config tunes one suite run.
type Config struct {
	Mode           ExecutionMode
	MaxConcurrency int
	// FailFast stops scheduling new tests after the first failure. In
	// sequential mode the result list ends at the failing test; in
	// parallel mode the current wave finishes and later waves never start.
	FailFast bool
	// DefaultTimeout overrides the built-in per-test timeout for tests
	// that do not declare their own.
	DefaultTimeout time.Duration
	Retry          RetryPolicy
	Validation     validation.Config
	Script         script.Config
	Perf           PerfExpectations
}

func (c Config) mode() ExecutionMode {
	if c.Mode == "" {
		return ModeSequential
	}
	return c.Mode
}

func (c Config) concurrency() int {
	if c.MaxConcurrency <= 0 {
		return 4
	}
	return c.MaxConcurrency
}

// Engine drives a suite: load, resolve, execute, validate, aggregate. It
// owns the metrics accumulator; callers read the Summary off the result.
type Engine struct {
	loader   spec.Loader
	executor TestCaseExecutor
	backends []script.Backend
	cfg      Config
	log      *logrus.Entry
}

// NewEngine assembles an engine. The loader and executor are required;
// script backends are optional and only consulted for suites that declare
// validation scripts.
func NewEngine(loader spec.Loader, executor TestCaseExecutor, cfg Config, backends ...script.Backend) *Engine {
	return &Engine{
		loader:   loader,
		executor: executor,
		backends: backends,
		cfg:      cfg,
		log:      logrus.WithField("component", "engine"),
	}
}

// RunSuite loads the specification at path and executes it. Load, parse,
// semantic, and dependency errors abort before any test runs and come back
// as *SuiteError; per-test failures are collected in the returned result.
func (e *Engine) RunSuite(ctx context.Context, path string) (*SuiteResult, error) {
	s, err := e.loader.Load(path)
	if err != nil {
		return nil, suiteErr(err)
	}
	result, err := e.Run(ctx, s)
	if result != nil {
		result.SpecPath = path
	}
	return result, err
}

// Run executes an already-loaded specification.
func (e *Engine) Run(ctx context.Context, s *spec.Specification) (*SuiteResult, error) {
	cases := s.TestCases()
	resolution, err := deps.Resolve(cases)
	if err != nil {
		return nil, suiteErr(err)
	}

	run := &suiteRun{
		engine:     e,
		spec:       s,
		byName:     indexCases(cases),
		resolution: resolution,
		metrics:    NewMetrics(),
		outcomes:   make(map[string]Status, len(cases)),
		valEngine:  validation.NewEngine(e.cfg.Validation),
	}
	if len(s.ValidationScripts) > 0 && len(e.backends) > 0 {
		run.beforeScripts = script.NewValidator(e.cfg.Script, spec.PhaseBefore, s.ValidationScripts, e.backends...)
		run.afterScripts = script.NewValidator(e.cfg.Script, spec.PhaseAfter, s.ValidationScripts, e.backends...)
	}

	run.metrics.SetExpectations(e.cfg.Perf)

	result := &SuiteResult{
		SpecName:  s.Name,
		StartedAt: time.Now(),
	}
	run.metrics.Start()

	switch e.cfg.mode() {
	case ModeParallel:
		err = run.runParallel(ctx, result)
	default:
		err = run.runSequential(ctx, result)
	}

	run.metrics.Stop()
	result.Metrics = run.metrics.Summarize()
	result.Duration = result.Metrics.TotalDuration
	return result, err
}

func indexCases(cases []spec.ToolTestCase) map[string]*spec.ToolTestCase {
	byName := make(map[string]*spec.ToolTestCase, len(cases))
	for i := range cases {
		byName[cases[i].Name] = &cases[i]
	}
	return byName
}

// suiteRun holds the mutable state of one run. outcomes gates dependents on
// their dependencies' status and is only written under mu in parallel mode.
type suiteRun struct {
	engine     *Engine
	spec       *spec.Specification
	byName     map[string]*spec.ToolTestCase
	resolution *deps.Resolution
	metrics    *Metrics
	valEngine  *validation.Engine

	beforeScripts *script.Validator
	afterScripts  *script.Validator

	mu       sync.Mutex
	outcomes map[string]Status
}

func (r *suiteRun) runSequential(ctx context.Context, result *SuiteResult) error {
	for _, name := range r.resolution.ExecutionOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		tr := r.runOne(ctx, r.byName[name])
		r.outcomes[name] = tr.Status
		r.metrics.Record(tr.Name, tr.Status, tr.Duration)
		result.tally(tr)

		if r.engine.cfg.FailFast && (tr.Status == StatusFailed || tr.Status == StatusError) {
			r.engine.log.WithField("test", name).Warn("fail-fast: aborting suite")
			return nil
		}
	}
	return nil
}

func (r *suiteRun) runParallel(ctx context.Context, result *SuiteResult) error {
	for _, wave := range r.resolution.Waves {
		if err := ctx.Err(); err != nil {
			return err
		}

		results := make([]TestResult, len(wave))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.engine.cfg.concurrency())
		for i, name := range wave {
			g.Go(func() error {
				tr := r.runOne(gctx, r.byName[name])
				r.mu.Lock()
				r.outcomes[name] = tr.Status
				r.mu.Unlock()
				results[i] = tr
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		waveFailed := false
		for _, tr := range results {
			r.metrics.Record(tr.Name, tr.Status, tr.Duration)
			result.tally(tr)
			if tr.Status == StatusFailed || tr.Status == StatusError {
				waveFailed = true
			}
		}
		if r.engine.cfg.FailFast && waveFailed {
			r.engine.log.Warn("fail-fast: later waves not scheduled")
			return nil
		}
	}
	return nil
}

// runOne executes a single test case end to end and stamps its wall-clock
// window. In sequential mode this gives results the property that a later
// test never starts before an earlier one ends.
func (r *suiteRun) runOne(ctx context.Context, tc *spec.ToolTestCase) TestResult {
	start := time.Now()
	tr := r.execute(ctx, tc)
	tr.StartedAt = start
	tr.EndedAt = time.Now()
	return tr
}

// execute covers skip checks, retries, expectation evaluation, and all
// three validation passes.
func (r *suiteRun) execute(ctx context.Context, tc *spec.ToolTestCase) TestResult {
	tr := TestResult{Name: tc.Name, Tool: tc.Tool}

	if tc.Skip != "" {
		tr.Status = StatusSkipped
		tr.SkipReason = tc.Skip
		return tr
	}
	if reason := r.blockedBy(tc); reason != "" {
		tr.Status = StatusSkipped
		tr.SkipReason = reason
		return tr
	}

	policy := r.engine.cfg.Retry
	for attempt := 1; attempt <= policy.Attempts(); attempt++ {
		if attempt > 1 {
			delay := policy.Backoff(attempt - 1)
			r.engine.log.WithFields(logrus.Fields{
				"test": tc.Name, "attempt": attempt, "delay": delay,
			}).Info("retrying test")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				tr.Status = StatusError
				tr.Error = ctx.Err().Error()
				tr.Attempts = attempt - 1
				return tr
			}
		}

		tr = r.attempt(ctx, tc)
		tr.Attempts = attempt
		if tr.Status == StatusPassed {
			break
		}
	}
	return tr
}

// blockedBy returns a skip reason when a dependency did not pass.
func (r *suiteRun) blockedBy(tc *spec.ToolTestCase) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range tc.Dependencies {
		if status, done := r.outcomes[dep]; done && status != StatusPassed {
			return fmt.Sprintf("dependency %q %s", dep, status)
		}
	}
	return ""
}

func (r *suiteRun) attempt(ctx context.Context, tc *spec.ToolTestCase) TestResult {
	tr := TestResult{Name: tc.Name, Tool: tc.Tool}

	rc := &validation.RunContext{
		TestName: tc.Name,
		ToolName: tc.Tool,
		Capabilities: map[string]any{
			"tools":     r.spec.Capabilities.Tools,
			"resources": r.spec.Capabilities.Resources,
			"prompts":   r.spec.Capabilities.Prompts,
			"sampling":  r.spec.Capabilities.Sampling,
			"logging":   r.spec.Capabilities.Logging,
		},
	}
	if tc.Input != nil {
		if raw, err := json.Marshal(tc.Input); err == nil {
			rc.Request = raw
		}
	}

	var errs []validation.Error
	if r.beforeScripts != nil {
		errs = append(errs, r.beforeScripts.Validate(ctx, nil, rc)...)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeoutFor(tc))
	exec, err := r.engine.executor.Execute(callCtx, tc.Tool, &tc.TestCase)
	cancel()
	if err != nil {
		tr.Status = StatusError
		tr.Error = err.Error()
		if len(errs) > 0 {
			tr.Validation = &validation.Result{Errors: errs}
		}
		return tr
	}
	tr.Duration = exec.Duration
	tr.Response = exec.Response

	errs = append(errs, r.checkExpectations(tc, exec)...)

	valResult := r.valEngine.ValidateResponse(exec.Response, &tc.Expected)
	if r.afterScripts != nil {
		errs = append(errs, r.afterScripts.Validate(ctx, exec.Response, rc)...)
	}

	valResult.Errors = append(errs, valResult.Errors...)
	if len(errs) > 0 {
		valResult.Valid = false
	}
	tr.Validation = valResult

	if valResult.Valid {
		tr.Status = StatusPassed
	} else {
		tr.Status = StatusFailed
	}
	return tr
}

// timeoutFor applies the engine-wide default timeout to tests that do not
// declare their own.
func (r *suiteRun) timeoutFor(tc *spec.ToolTestCase) time.Duration {
	if tc.TimeoutSeconds == 0 && r.engine.cfg.DefaultTimeout > 0 {
		return r.engine.cfg.DefaultTimeout
	}
	return tc.Timeout()
}

// checkExpectations evaluates the error-shape assertions of the expected
// output against the raw execution.
func (r *suiteRun) checkExpectations(tc *spec.ToolTestCase, exec *Execution) []validation.Error {
	if tc.Expected.Error != exec.ToolError {
		msg := "expected the call to fail but it succeeded"
		if exec.ToolError {
			msg = "unexpected tool error: " + exec.ErrorMessage
		}
		return []validation.Error{{Path: "$", Kind: "error", Message: msg}}
	}
	if !tc.Expected.Error {
		return nil
	}

	var errs []validation.Error
	if want := tc.Expected.ErrorCode; want != nil {
		code := gjson.GetBytes(exec.Response, "error.code")
		if !code.Exists() || int(code.Int()) != *want {
			errs = append(errs, validation.Error{
				Path: "$.error.code", Kind: "error",
				Message:  "error code mismatch",
				Expected: *want,
				Actual:   code.Value(),
			})
		}
	}
	if want := tc.Expected.ErrorMessageContains; want != "" && !strings.Contains(exec.ErrorMessage, want) {
		errs = append(errs, validation.Error{
			Path: "$", Kind: "error",
			Message:  "error message mismatch",
			Expected: want,
			Actual:   exec.ErrorMessage,
		})
	}
	return errs
}
