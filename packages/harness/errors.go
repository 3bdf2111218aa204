package harness

import (
	"errors"

	"github.com/rustic-ai/moth/packages/deps"
	"github.com/rustic-ai/moth/packages/spec"
)

// ErrorKind buckets a suite-level failure for reporting and exit codes.
// Io, Parse, Spec, and Dependency errors abort the suite before any test
// runs; validation failures never surface here, they are collected per test.
type ErrorKind string

const (
	KindIo         ErrorKind = "io"
	KindParse      ErrorKind = "parse"
	KindSpec       ErrorKind = "spec"
	KindDependency ErrorKind = "dependency"
	KindExecution  ErrorKind = "execution"
)

// Classify maps an error from loading or resolution to its kind.
func Classify(err error) ErrorKind {
	var cycleErr *deps.CycleError
	var unknownErr *deps.UnknownDependencyError
	switch {
	case errors.Is(err, spec.ErrIo):
		return KindIo
	case errors.Is(err, spec.ErrParse):
		return KindParse
	case errors.Is(err, spec.ErrInvalid):
		return KindSpec
	case errors.As(err, &cycleErr), errors.As(err, &unknownErr):
		return KindDependency
	default:
		return KindExecution
	}
}

// SuiteError wraps a fatal pre-run failure with its classification.
type SuiteError struct {
	Kind ErrorKind
	Err  error
}

func (e *SuiteError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *SuiteError) Unwrap() error { return e.Err }

func suiteErr(err error) *SuiteError {
	return &SuiteError{Kind: Classify(err), Err: err}
}
