package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity separates issues that reject a definition from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// Issue codes reported by the definition checks.
const (
	IssueSchema       = "SCHEMA"
	IssueMissingField = "MISSING_FIELD"
	IssueBadExpr      = "BAD_EXPRESSION"
	IssueBadTarget    = "BAD_TARGET"
	IssueNoTerminal   = "NO_TERMINAL"
	IssueUnreachable  = "UNREACHABLE"
	IssueDuplicate    = "DUPLICATE"
	IssueParamSpec    = "BAD_PARAM_SPEC"
)

// ValidationIssue locates one problem in an action definition. Path is dotted
// from the definition root, e.g. "logic.2.then.0.condition".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues found while checking a definition.
// Only errors make it invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{path, code, message, SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{path, code, message, SeverityWarning})
}

// Merge appends other's issues after the receiver's. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// ToError reports an invalid result as a MalformedAst error naming the first
// issue; the full issue lists travel in Details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	var msg strings.Builder
	msg.WriteString(r.Errors[0].String())
	if extra := len(r.Errors) - 1; extra > 0 {
		fmt.Fprintf(&msg, " (and %d more)", extra)
	}
	return NewError(ErrKindMalformedAst, msg.String()).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
