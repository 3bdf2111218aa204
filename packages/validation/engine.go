// Package validation evaluates path-addressed field assertions and JSON-Schema
// checks against tool responses.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rustic-ai/moth/packages/spec"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Config controls engine behavior for one suite run.
type Config struct {
	// StrictMode invalidates the whole result on any field error.
	StrictMode bool
	// FailFast stops evaluating remaining fields on the first failure.
	FailFast bool
	// CacheCapacity bounds the compiled-path cache. Zero means DefaultCacheCapacity.
	CacheCapacity int
}

// DefaultCacheCapacity bounds the path cache when none is configured.
const DefaultCacheCapacity = 256

// Error is one validation failure, local to the field or schema check that
// produced it. Errors are collected, never thrown.
type Error struct {
	Path     string `json:"path,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
}

// FieldResult records the outcome of one field validation, including the
// actual value found (nil when the path matched nothing).
type FieldResult struct {
	Path   string `json:"path"`
	Valid  bool   `json:"valid"`
	Actual any    `json:"actual"`
	Error  *Error `json:"error,omitempty"`
}

// SchemaResult is the independent JSON-Schema pass, reported alongside field
// results rather than merged into them.
type SchemaResult struct {
	Valid  bool    `json:"valid"`
	Errors []Error `json:"errors,omitempty"`
}

// Result aggregates field and schema validation for one response.
type Result struct {
	Valid    bool          `json:"is_valid"`
	Fields   []FieldResult `json:"fields,omitempty"`
	Errors   []Error       `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Schema   *SchemaResult `json:"schema,omitempty"`
}

// ErrorCount returns the number of errors across both passes.
func (r *Result) ErrorCount() int {
	n := len(r.Errors)
	if r.Schema != nil {
		n += len(r.Schema.Errors)
	}
	return n
}

// Engine evaluates a response against an assertion set. The compiled-path
// cache is owned by the engine instance and is valid for one suite run
// unless explicitly cleared. Safe for concurrent use.
type Engine struct {
	cfg   Config
	cache *pathCache
}

// NewEngine creates a validation engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Engine{cfg: cfg, cache: newPathCache(capacity)}
}

// ClearCache drops all compiled paths and patterns, typically between runs.
func (e *Engine) ClearCache() {
	e.cache.clear()
}

// CacheLen reports how many compiled entries the cache currently holds.
func (e *Engine) CacheLen() int {
	return e.cache.len()
}

// ValidateResponse checks response against every field assertion in expected,
// then runs the schema pass when a schema is supplied.
func (e *Engine) ValidateResponse(response []byte, expected *spec.ExpectedOutput) *Result {
	result := &Result{Valid: true}
	if expected == nil {
		return result
	}

	for _, fv := range expected.Fields {
		fr := e.validateField(response, fv)
		result.Fields = append(result.Fields, fr)
		if fr.Error != nil {
			result.Errors = append(result.Errors, *fr.Error)
			result.Valid = false
			if e.cfg.FailFast {
				break
			}
		}
	}

	// Extra-field detection: top-level members not covered by any declared
	// path are warnings, promoted to errors in strict mode.
	if !expected.AllowExtraFields && len(expected.Fields) > 0 {
		for _, extra := range e.extraFields(response, expected.Fields) {
			if e.cfg.StrictMode {
				result.Errors = append(result.Errors, Error{
					Path:    extra,
					Kind:    "extra_field",
					Message: fmt.Sprintf("unexpected field %q in response", extra),
				})
				result.Valid = false
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("unexpected field %q in response", extra))
			}
		}
	}

	if len(expected.Schema) > 0 {
		result.Schema = e.validateSchema(response, expected.Schema)
		if !result.Schema.Valid {
			result.Valid = false
		}
	}

	return result
}

// ValidateField is the standalone single-field operation, exposed for
// unit-level checks and for reuse by the script-validation bridge.
func (e *Engine) ValidateField(response []byte, fv spec.FieldValidation) []Error {
	fr := e.validateField(response, fv)
	if fr.Error != nil {
		return []Error{*fr.Error}
	}
	return nil
}

func (e *Engine) validateField(response []byte, fv spec.FieldValidation) FieldResult {
	fr := FieldResult{Path: fv.Path, Valid: true}

	match := gjson.GetBytes(response, e.cache.gjsonPath(fv.Path))
	if !match.Exists() {
		if fv.Required {
			fr.Valid = false
			fr.Error = &Error{
				Path:    fv.Path,
				Kind:    "exists",
				Message: fmt.Sprintf("missing required field at path %q", fv.Path),
			}
		}
		// Optional and absent: valid with a nil actual value.
		return fr
	}

	actual := match.Value()
	fr.Actual = actual

	var verr *Error
	switch fv.Mode() {
	case spec.ModeEquals:
		verr = checkEquals(fv, actual)
	case spec.ModeType:
		verr = checkType(fv, actual)
	case spec.ModePattern:
		verr = e.checkPattern(fv, actual)
	case spec.ModeRange:
		verr = checkRange(fv, actual)
	case spec.ModeExists:
		// Existence already established.
	}

	if verr != nil {
		fr.Valid = false
		fr.Error = verr
	}
	return fr
}

func checkEquals(fv spec.FieldValidation, actual any) *Error {
	if jsonEqual(actual, fv.Value) {
		return nil
	}
	return &Error{
		Path:     fv.Path,
		Kind:     "equals",
		Message:  fmt.Sprintf("expected %v, got %v", fv.Value, actual),
		Expected: fv.Value,
		Actual:   actual,
	}
}

func checkType(fv spec.FieldValidation, actual any) *Error {
	actualType := jsonTypeOf(actual)
	want := fv.FieldType
	if actualType == want {
		return nil
	}
	// Integers are numbers whose value has no fractional part.
	if want == "integer" && actualType == "number" {
		if n, ok := toFloat64(actual); ok && n == math.Trunc(n) {
			return nil
		}
	}
	if want == "number" && actualType == "integer" {
		return nil
	}
	return &Error{
		Path:     fv.Path,
		Kind:     "type",
		Message:  fmt.Sprintf("expected type %s, got %s", want, actualType),
		Expected: want,
		Actual:   actualType,
	}
}

func (e *Engine) checkPattern(fv spec.FieldValidation, actual any) *Error {
	s, ok := actual.(string)
	if !ok {
		// Pattern checks never coerce: a non-string match is a failure.
		return &Error{
			Path:     fv.Path,
			Kind:     "pattern",
			Message:  fmt.Sprintf("pattern check requires a string, got %s", jsonTypeOf(actual)),
			Expected: fv.Pattern,
			Actual:   actual,
		}
	}
	re, err := e.cache.regexp(fv.Pattern)
	if err != nil {
		return &Error{
			Path:    fv.Path,
			Kind:    "pattern",
			Message: fmt.Sprintf("invalid pattern %q: %v", fv.Pattern, err),
		}
	}
	if re.MatchString(s) {
		return nil
	}
	return &Error{
		Path:     fv.Path,
		Kind:     "pattern",
		Message:  fmt.Sprintf("value %q does not match pattern %q", s, fv.Pattern),
		Expected: fv.Pattern,
		Actual:   s,
	}
}

func checkRange(fv spec.FieldValidation, actual any) *Error {
	n, ok := toFloat64(actual)
	if !ok {
		return &Error{
			Path:    fv.Path,
			Kind:    "range",
			Message: fmt.Sprintf("range check requires a number, got %s", jsonTypeOf(actual)),
			Actual:  actual,
		}
	}
	if fv.Min != nil && n < *fv.Min {
		return &Error{
			Path:     fv.Path,
			Kind:     "range",
			Message:  fmt.Sprintf("value %v is below minimum %v", n, *fv.Min),
			Expected: *fv.Min,
			Actual:   n,
		}
	}
	if fv.Max != nil && n > *fv.Max {
		return &Error{
			Path:     fv.Path,
			Kind:     "range",
			Message:  fmt.Sprintf("value %v exceeds maximum %v", n, *fv.Max),
			Expected: *fv.Max,
			Actual:   n,
		}
	}
	return nil
}

// extraFields lists top-level response members that no declared field path
// touches. Only the first path segment is compared; nested coverage is the
// schema pass's job.
func (e *Engine) extraFields(response []byte, fields []spec.FieldValidation) []string {
	parsed := gjson.ParseBytes(response)
	if !parsed.IsObject() {
		return nil
	}
	covered := make(map[string]bool, len(fields))
	for _, fv := range fields {
		head := e.cache.gjsonPath(fv.Path)
		if i := strings.IndexByte(head, '.'); i >= 0 {
			head = head[:i]
		}
		covered[head] = true
	}
	var extras []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		if !covered[key.String()] {
			extras = append(extras, key.String())
		}
		return true
	})
	return extras
}

func (e *Engine) validateSchema(response []byte, schema map[string]any) *SchemaResult {
	res, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(response),
	)
	if err != nil {
		return &SchemaResult{Valid: false, Errors: []Error{{
			Kind:    "schema",
			Message: fmt.Sprintf("schema validation error: %v", err),
		}}}
	}
	if res.Valid() {
		return &SchemaResult{Valid: true}
	}
	sr := &SchemaResult{}
	for _, desc := range res.Errors() {
		sr.Errors = append(sr.Errors, Error{
			Path:    desc.Field(),
			Kind:    "schema",
			Message: desc.String(),
		})
	}
	return sr
}

// jsonTypeOf maps JSON leaf kinds to their label.
func jsonTypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// jsonEqual compares two values with numeric tolerance for the int/float
// split that JSON decoding produces, falling back to string rendering.
func jsonEqual(actual, expected any) bool {
	an, aok := toFloat64(actual)
	en, eok := toFloat64(expected)
	if aok && eok {
		return an == en
	}
	if fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected) {
		return true
	}
	aj, errA := json.Marshal(actual)
	ej, errB := json.Marshal(expected)
	return errA == nil && errB == nil && string(aj) == string(ej)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toGJSONPath converts a JSONPath-style selector to gjson syntax:
// "$.result.status" -> "result.status", "$.items[0].id" -> "items.0.id",
// "$.items[*].id" -> "items.#.id" (which gjson exposes as an array).
func toGJSONPath(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return "@this"
	}
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '[':
			if b.Len() > 0 {
				b.WriteByte('.')
			}
		case ']':
			// consumed
		case '*':
			b.WriteByte('#')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
