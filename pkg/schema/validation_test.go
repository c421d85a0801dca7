package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_Severity(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())

	r.AddWarning("logic.3", IssueUnreachable, "block never runs")
	assert.True(t, r.Valid())

	r.AddError("logic.0.condition", IssueBadExpr, "unexpected token")
	assert.False(t, r.Valid())

	require.Len(t, r.Errors, 1)
	assert.Equal(t, ValidationIssue{
		Path: "logic.0.condition", Code: IssueBadExpr, Message: "unexpected token", Severity: SeverityError,
	}, r.Errors[0])
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationIssue_String(t *testing.T) {
	assert.Equal(t, "logic: no return", ValidationIssue{Path: "logic", Message: "no return"}.String())
	assert.Equal(t, "bad bundle", ValidationIssue{Message: "bad bundle"}.String())
}

func TestValidationResult_Merge(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("name", IssueMissingField, "name is required")

	other := &ValidationResult{}
	other.AddError("logic", IssueNoTerminal, "no return")
	other.AddWarning("logic.1", IssueUnreachable, "block never runs")

	r.Merge(other)
	r.Merge(nil)

	require.Len(t, r.Errors, 2)
	assert.Equal(t, "name", r.Errors[0].Path)
	assert.Equal(t, "logic", r.Errors[1].Path)
	assert.Len(t, r.Warnings, 1)
}

func TestValidationResult_ToError(t *testing.T) {
	tests := []struct {
		name     string
		errors   []string
		warnings int
		message  string
	}{
		{"warnings only", nil, 1, ""},
		{"single error", []string{"params are read-only"}, 0, "logic.0.target: params are read-only"},
		{"several errors", []string{"first", "second", "third"}, 2, "logic.0.target: first (and 2 more)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &ValidationResult{}
			for _, msg := range tc.errors {
				r.AddError("logic.0.target", IssueBadTarget, msg)
			}
			for i := 0; i < tc.warnings; i++ {
				r.AddWarning("logic.1", IssueUnreachable, "block never runs")
			}

			err := r.ToError()
			if tc.message == "" {
				assert.NoError(t, err)
				return
			}
			var aErr *ActionError
			require.ErrorAs(t, err, &aErr)
			assert.Equal(t, ErrKindMalformedAst, aErr.Kind)
			assert.Equal(t, tc.message, aErr.Message)
			assert.Equal(t, len(tc.errors), aErr.Details["error_count"])
			assert.Equal(t, tc.warnings, aErr.Details["warning_count"])
		})
	}
}
