package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/applogic/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// actionSchemaJSON is the JSON Schema for ActionDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const actionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://applogic.dev/schemas/action.json",
  "type": "object",
  "required": ["name", "logic"],
  "properties": {
    "name": {
      "type": "string",
      "pattern": "^[A-Za-z_][A-Za-z0-9_\\-]*$"
    },
    "description": { "type": "string" },
    "params": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/param" }
    },
    "returns": {
      "type": "object",
      "properties": {
        "description": { "type": "string" },
        "fields": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/param" }
        }
      },
      "additionalProperties": false
    },
    "tool_type": {
      "type": "string",
      "enum": ["read", "write"]
    },
    "logic": { "$ref": "#/$defs/blocks" }
  },
  "additionalProperties": false,
  "$defs": {
    "expr": { "type": "string", "minLength": 1 },
    "expr_map": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/expr" }
    },
    "blocks": {
      "type": "array",
      "items": { "$ref": "#/$defs/block" }
    },
    "param": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["string", "number", "integer", "boolean", "array", "object", "any"]
        },
        "required": { "type": "boolean" },
        "description": { "type": "string" },
        "minimum": { "type": "number" },
        "maximum": { "type": "number" },
        "min_length": { "type": "integer", "minimum": 0 },
        "max_length": { "type": "integer", "minimum": 0 },
        "enum": { "type": "array", "minItems": 1 }
      },
      "additionalProperties": false
    },
    "block": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["validate", "update", "notify", "return", "error", "branch", "loop"]
        }
      },
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "validate" } } },
          "then": {
            "required": ["condition", "error_message"],
            "properties": {
              "type": true,
              "condition": { "$ref": "#/$defs/expr" },
              "error_message": { "type": "string", "minLength": 1 }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "update" } } },
          "then": {
            "required": ["target", "operation", "value"],
            "properties": {
              "type": true,
              "target": { "$ref": "#/$defs/expr" },
              "operation": {
                "type": "string",
                "enum": ["set", "add", "subtract", "append", "remove"]
              },
              "value": { "$ref": "#/$defs/expr" }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "notify" } } },
          "then": {
            "required": ["to", "message"],
            "properties": {
              "type": true,
              "to": { "$ref": "#/$defs/expr" },
              "message": { "type": "string" },
              "data": { "$ref": "#/$defs/expr_map" }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "return" } } },
          "then": {
            "properties": {
              "type": true,
              "value": { "$ref": "#/$defs/expr_map" }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "error" } } },
          "then": {
            "required": ["message"],
            "properties": {
              "type": true,
              "message": { "type": "string", "minLength": 1 }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "branch" } } },
          "then": {
            "required": ["condition"],
            "properties": {
              "type": true,
              "condition": { "$ref": "#/$defs/expr" },
              "then": { "$ref": "#/$defs/blocks" },
              "else": { "$ref": "#/$defs/blocks" }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "loop" } } },
          "then": {
            "required": ["collection", "body"],
            "anyOf": [
              { "required": ["as"] },
              { "required": ["item_binding"] }
            ],
            "properties": {
              "type": true,
              "collection": { "$ref": "#/$defs/expr" },
              "as": { "$ref": "#/$defs/identifier" },
              "item_binding": { "$ref": "#/$defs/identifier" },
              "body": { "$ref": "#/$defs/blocks" }
            },
            "additionalProperties": false
          }
        }
      ]
    },
    "identifier": {
      "type": "string",
      "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"
    }
  }
}`

const actionSchemaURL = "https://applogic.dev/schemas/action.json"

// JSONSchemaValidator checks action documents and call parameters using
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	actionSchema *jsonschema.Schema

	// mu guards the cache and compiler for dynamic schema compilation.
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	cache    map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the action schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(actionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal action schema: %w", err)
	}
	if err := c.AddResource(actionSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add action schema resource: %w", err)
	}

	actSchema, err := c.Compile(actionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}

	return &JSONSchemaValidator{
		actionSchema: actSchema,
		compiler:       newInputCompiler(),
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates an ActionDefinition against the action JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.ActionDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrKindMalformedAst, "action definition is nil")
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return schema.NewError(schema.ErrKindMalformedAst, "failed to serialize action definition").WithCause(err)
	}
	return v.ValidateDocument(raw)
}

// ValidateDocument validates a raw action document before it is decoded, so
// unknown fields and misspelled keys are reported instead of silently dropped.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrKindMalformedAst, "action document is not valid JSON").WithCause(err)
	}
	if err := v.actionSchema.Validate(doc); err != nil {
		return toActionError(schema.ErrKindMalformedAst, err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		input = map[string]any{}
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrKindMalformedAst, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrKindValidationFailed, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toActionError(schema.ErrKindValidationFailed, err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("applogic://input-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler configured for input/output validation.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toActionError converts a jsonschema.ValidationError into an ActionError
// of the given kind with clear, actionable messages for agent consumption.
func toActionError(kind string, err error) *schema.ActionError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(kind, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(kind, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(kind, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(kind, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations for agent-friendly error reporting.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
