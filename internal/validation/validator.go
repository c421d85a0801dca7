package validation

import "github.com/rendis/applogic/pkg/schema"

// Validator checks action definitions before they can be executed and call
// parameters before each execution. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateDefinition(def *schema.ActionDefinition) error
	ValidateParams(params map[string]any, specs map[string]schema.ParamSpec) error
}
