package validation

import (
	"encoding/json"
	"sort"

	"github.com/rendis/applogic/pkg/schema"
)

// ParamSchema renders parameter specs as a JSON Schema object. Extra
// parameters are allowed; declared ones are type- and bound-checked.
func ParamSchema(params map[string]schema.ParamSpec) ([]byte, error) {
	props := make(map[string]any, len(params))
	var required []string

	for name, p := range params {
		prop := map[string]any{}
		switch p.Type {
		case schema.ParamAny, "":
		default:
			prop["type"] = string(p.Type)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		if p.MinLength != nil {
			prop["minLength"] = *p.MinLength
		}
		if p.MaxLength != nil {
			prop["maxLength"] = *p.MaxLength
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

// ValidateParams checks call parameters against an action's param specs.
// Violations are ValidationFailed.
func (v *JSONSchemaValidator) ValidateParams(params map[string]any, specs map[string]schema.ParamSpec) error {
	if len(specs) == 0 {
		return nil
	}
	doc, err := ParamSchema(specs)
	if err != nil {
		return schema.NewError(schema.ErrKindMalformedAst, "cannot build parameter schema").WithCause(err)
	}
	return v.ValidateInput(params, doc)
}
