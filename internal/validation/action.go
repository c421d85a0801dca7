package validation

import (
	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/pkg/schema"
)

// ActionValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (expressions, targets, bindings, param specs)
// 3. Flow (every path terminates, unreachable blocks)
type ActionValidator struct {
	jsonSchema *JSONSchemaValidator
	compiler   *expressions.Compiler
}

// NewActionValidator creates an ActionValidator. compiler may be nil; pass the
// engine's compiler to share its parse cache.
func NewActionValidator(compiler *expressions.Compiler) (*ActionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	if compiler == nil {
		compiler = expressions.NewCompiler()
	}
	return &ActionValidator{jsonSchema: jsv, compiler: compiler}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and flow stages are skipped.
func (av *ActionValidator) Validate(def *schema.ActionDefinition) *schema.ValidationResult {
	result, _ := av.Check(def)
	return result
}

// Check is Validate that also returns the flow graph when the definition is valid.
func (av *ActionValidator) Check(def *schema.ActionDefinition) (*schema.ValidationResult, *flowgraph.Graph) {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.IssueSchema, "action definition is nil")
		return r, nil
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(av.jsonSchema, def)
	if !result.Valid() {
		return result, nil
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(def, av.compiler))

	// Stage 3: Flow.
	g, flow := validateFlow(def)
	result.Merge(flow)
	if !result.Valid() {
		return result, nil
	}
	return result, g
}

// ValidateDefinition satisfies the Validator interface.
func (av *ActionValidator) ValidateDefinition(def *schema.ActionDefinition) error {
	return av.Validate(def).ToError()
}

// ValidateParams delegates to the underlying JSONSchemaValidator.
func (av *ActionValidator) ValidateParams(params map[string]any, specs map[string]schema.ParamSpec) error {
	return av.jsonSchema.ValidateParams(params, specs)
}

// ValidateInput checks input against a precompiled JSON Schema document,
// such as one produced by ParamSchema.
func (av *ActionValidator) ValidateInput(input map[string]any, schemaDoc []byte) error {
	return av.jsonSchema.ValidateInput(input, schemaDoc)
}

// ValidateDocument checks a raw action document against the action schema.
func (av *ActionValidator) ValidateDocument(raw []byte) error {
	return av.jsonSchema.ValidateDocument(raw)
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.ActionDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	aErr, ok := err.(*schema.ActionError)
	if !ok {
		result.AddError("/", schema.IssueSchema, err.Error())
		return result
	}

	if aErr.Details != nil {
		if violations, ok := aErr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.IssueSchema, v)
			}
			return result
		}
	}
	result.AddError("/", schema.IssueSchema, aErr.Message)
	return result
}

var _ Validator = (*ActionValidator)(nil)
