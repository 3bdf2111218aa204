package validation

import (
	"context"
	"encoding/json"

	"github.com/rustic-ai/moth/packages/spec"
)

// RunContext carries per-test metadata through a validator chain.
type RunContext struct {
	TestName     string          `json:"test_name"`
	ToolName     string          `json:"tool_name"`
	RequestID    string          `json:"request_id"`
	Request      json.RawMessage `json:"request,omitempty"`
	Capabilities map[string]any  `json:"capabilities,omitempty"`
}

// Validator is the single capability surface shared by field, schema, and
// script validation so the engine can compose all three in an ordered list.
type Validator interface {
	Name() string
	Validate(ctx context.Context, response []byte, rc *RunContext) []Error
}

// FieldsValidator adapts the engine's field pass to the Validator interface.
type FieldsValidator struct {
	engine *Engine
	fields []spec.FieldValidation
}

// NewFieldsValidator wraps a set of field assertions as a Validator.
func NewFieldsValidator(engine *Engine, fields []spec.FieldValidation) *FieldsValidator {
	return &FieldsValidator{engine: engine, fields: fields}
}

func (v *FieldsValidator) Name() string { return "fields" }

func (v *FieldsValidator) Validate(_ context.Context, response []byte, _ *RunContext) []Error {
	var errs []Error
	for _, fv := range v.fields {
		errs = append(errs, v.engine.ValidateField(response, fv)...)
		if v.engine.cfg.FailFast && len(errs) > 0 {
			break
		}
	}
	return errs
}

// SchemaValidator adapts the engine's schema pass to the Validator interface.
type SchemaValidator struct {
	engine *Engine
	schema map[string]any
}

// NewSchemaValidator wraps a JSON schema as a Validator.
func NewSchemaValidator(engine *Engine, schema map[string]any) *SchemaValidator {
	return &SchemaValidator{engine: engine, schema: schema}
}

func (v *SchemaValidator) Name() string { return "schema" }

func (v *SchemaValidator) Validate(_ context.Context, response []byte, _ *RunContext) []Error {
	if len(v.schema) == 0 {
		return nil
	}
	return v.engine.validateSchema(response, v.schema).Errors
}

// Chain runs validators in order and concatenates their errors.
func Chain(ctx context.Context, response []byte, rc *RunContext, validators ...Validator) []Error {
	var errs []Error
	for _, v := range validators {
		errs = append(errs, v.Validate(ctx, response, rc)...)
	}
	return errs
}
