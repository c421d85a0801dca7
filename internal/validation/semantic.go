package validation

import (
	"fmt"
	"regexp"

	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/pkg/schema"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedNames cannot be used as loop bindings.
var reservedNames = map[string]bool{
	expressions.RootParams: true,
	expressions.RootAgent:  true,
	expressions.RootAgents: true,
	expressions.RootShared: true,
	expressions.RootState:  true,
	expressions.RootConfig: true,
	expressions.RootSelf:   true,
	"true": true, "false": true, "nil": true, "null": true,
}

// validateSemantic compiles every expression, template and update target,
// checks loop bindings and parameter specs, and warns on calls to functions
// outside the builtin registry.
func validateSemantic(def *schema.ActionDefinition, compiler *expressions.Compiler) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for name, p := range def.Params {
		validateParamSpec(fmt.Sprintf("params.%s", name), p, result)
	}
	validateBlocks(def.Logic, "logic", compiler, result)
	return result
}

func validateParamSpec(path string, p schema.ParamSpec, result *schema.ValidationResult) {
	if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
		result.AddError(path, schema.IssueParamSpec, "minimum is greater than maximum")
	}
	if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
		result.AddError(path, schema.IssueParamSpec, "min_length is greater than max_length")
	}
	numeric := p.Type == schema.ParamNumber || p.Type == schema.ParamInteger
	if (p.Minimum != nil || p.Maximum != nil) && !numeric {
		result.AddWarning(path, schema.IssueParamSpec, "minimum/maximum only apply to numeric params")
	}
}

func validateBlocks(blocks schema.Blocks, path string, compiler *expressions.Compiler, result *schema.ValidationResult) {
	for i, blk := range blocks {
		p := fmt.Sprintf("%s.%d", path, i)
		switch b := blk.(type) {
		case nil:
			result.AddError(p, schema.IssueMissingField, "block is null")
		case *schema.ValidateBlock:
			checkExpr(p+".condition", b.Condition, compiler, result)
			if b.ErrorMessage == "" {
				result.AddError(p+".error_message", schema.IssueMissingField, "validate requires an error_message")
			}
		case *schema.UpdateBlock:
			checkTarget(p+".target", b.Target, compiler, result)
			checkExpr(p+".value", b.Value, compiler, result)
			switch b.Operation {
			case schema.OpSet, schema.OpAdd, schema.OpSubtract, schema.OpAppend, schema.OpRemove:
			default:
				result.AddError(p+".operation", schema.IssueSchema,
					fmt.Sprintf("unknown operation %q", b.Operation))
			}
		case *schema.NotifyBlock:
			checkExpr(p+".to", b.To, compiler, result)
			checkTemplate(p+".message", b.Message, compiler, result)
			checkExprMap(p+".data", b.Data, compiler, result)
		case *schema.ReturnBlock:
			checkExprMap(p+".value", b.Value, compiler, result)
		case *schema.ErrorBlock:
			checkTemplate(p+".message", b.Message, compiler, result)
		case *schema.BranchBlock:
			checkExpr(p+".condition", b.Condition, compiler, result)
			validateBlocks(b.Then, p+".then", compiler, result)
			validateBlocks(b.Else, p+".else", compiler, result)
			if len(b.Then) == 0 && len(b.Else) == 0 {
				result.AddWarning(p, schema.IssueMissingField, "branch has no then or else blocks")
			}
		case *schema.LoopBlock:
			checkExpr(p+".collection", b.Collection, compiler, result)
			switch {
			case !identifierPattern.MatchString(b.As):
				result.AddError(p+".as", schema.IssueMissingField,
					fmt.Sprintf("loop binding %q is not a valid identifier", b.As))
			case reservedNames[b.As]:
				result.AddError(p+".as", schema.IssueMissingField,
					fmt.Sprintf("loop binding %q shadows a reserved name", b.As))
			}
			validateBlocks(b.Body, p+".body", compiler, result)
		}
	}
}

func checkExpr(path, source string, compiler *expressions.Compiler, result *schema.ValidationResult) {
	if source == "" {
		result.AddError(path, schema.IssueMissingField, "expression is required")
		return
	}
	e, err := compiler.Compile(source)
	if err != nil {
		result.AddError(path, schema.IssueBadExpr, messageOf(err))
		return
	}
	warnUnknownFunctions(path, e, result)
}

func checkExprMap(path string, m map[string]string, compiler *expressions.Compiler, result *schema.ValidationResult) {
	for _, k := range sortedStringKeys(m) {
		checkExpr(path+"."+k, m[k], compiler, result)
	}
}

func checkTemplate(path, source string, compiler *expressions.Compiler, result *schema.ValidationResult) {
	t, err := compiler.CompileTemplate(source)
	if err != nil {
		result.AddError(path, schema.IssueBadExpr, messageOf(err))
		return
	}
	for _, e := range t.Expressions() {
		warnUnknownFunctions(path, e, result)
	}
}

func checkTarget(path, source string, compiler *expressions.Compiler, result *schema.ValidationResult) {
	if _, err := compiler.CompileTarget(source); err != nil {
		result.AddError(path, schema.IssueBadTarget, messageOf(err))
	}
}

func warnUnknownFunctions(path string, e *expressions.Expression, result *schema.ValidationResult) {
	for _, fn := range e.Functions() {
		if !expressions.IsBuiltin(fn) {
			result.AddWarning(path, schema.IssueBadExpr,
				fmt.Sprintf("unknown function %q will fail at runtime", fn))
		}
	}
}

func messageOf(err error) string {
	if ae, ok := err.(*schema.ActionError); ok {
		return ae.Message
	}
	return err.Error()
}
