package validation

import (
	"strings"
	"sync"
	"testing"

	"github.com/rendis/applogic/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.actionSchema)
}

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(nil)
	require.Error(t, err)

	aErr, ok := err.(*schema.ActionError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrKindMalformedAst, aErr.Kind)
	assert.Contains(t, aErr.Message, "nil")
}

func TestValidateDocument(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"minimal", `{"name":"ping","logic":[{"type":"return"}]}`, ""},
		{"full transfer", `{
			"name":"transfer","description":"send money","tool_type":"write",
			"params":{"to":{"type":"string","required":true},"amount":{"type":"number","minimum":0}},
			"returns":{"fields":{"new_balance":{"type":"number"}}},
			"logic":[
				{"type":"validate","condition":"to != self","error_message":"no self transfer"},
				{"type":"update","target":"agent.balance","operation":"subtract","value":"amount"},
				{"type":"notify","to":"to","message":"got ${amount}","data":{"amount":"amount"}},
				{"type":"branch","condition":"amount > 10","then":[{"type":"error","message":"big"}]},
				{"type":"loop","collection":"params.items","item_binding":"it","body":[]},
				{"type":"return","value":{"ok":"true"}}
			]}`, ""},
		{"missing name", `{"logic":[]}`, "/: "},
		{"bad tool type", `{"name":"a","tool_type":"exec","logic":[]}`, "/tool_type: "},
		{"unknown block type", `{"name":"a","logic":[{"type":"goto"}]}`, "/logic/0/type: "},
		{"validate without message", `{"name":"a","logic":[{"type":"validate","condition":"x"}]}`, "/logic/0: "},
		{"update bad operation", `{"name":"a","logic":[{"type":"update","target":"agent.x","operation":"mul","value":"1"}]}`, "/logic/0/operation: "},
		{"update missing value", `{"name":"a","logic":[{"type":"update","target":"agent.x","operation":"set"}]}`, "/logic/0: "},
		{"stray field", `{"name":"a","logic":[{"type":"return","message":"x"}]}`, "/logic/0: "},
		{"loop without binding", `{"name":"a","logic":[{"type":"loop","collection":"c","body":[]}]}`, "/logic/0: "},
		{"bad param type", `{"name":"a","params":{"x":{"type":"date"}},"logic":[]}`, "/params/x/type: "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateDocument([]byte(tc.doc))
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, schema.IsKind(err, schema.ErrKindMalformedAst))
			aErr := err.(*schema.ActionError)
			assert.Contains(t, aErr.Details["violations"], findViolation(aErr, tc.wantErr), aErr.Message)
		})
	}
}

func findViolation(aErr *schema.ActionError, prefix string) string {
	violations, _ := aErr.Details["violations"].([]string)
	for _, v := range violations {
		if strings.HasPrefix(v, prefix) {
			return v
		}
	}
	return "<no violation at " + prefix + ">"
}

func TestValidateDocument_NotJSON(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDocument([]byte("{"))
	assert.True(t, schema.IsKind(err, schema.ErrKindMalformedAst))
}

func TestValidateParams(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	zero := 0.0
	maxLen := 3
	specs := map[string]schema.ParamSpec{
		"to":     {Type: schema.ParamString, Required: true, MaxLength: &maxLen},
		"amount": {Type: schema.ParamNumber, Required: true, Minimum: &zero},
		"kind":   {Type: schema.ParamString, Enum: []any{"fast", "slow"}},
		"count":  {Type: schema.ParamInteger},
		"meta":   {Type: schema.ParamAny},
	}

	tests := []struct {
		name   string
		params map[string]any
		ok     bool
	}{
		{"valid", map[string]any{"to": "bob", "amount": 10, "kind": "fast", "count": 2, "meta": []any{1}}, true},
		{"extra params allowed", map[string]any{"to": "bob", "amount": 1.5, "note": "x"}, true},
		{"missing required", map[string]any{"to": "bob"}, false},
		{"nil params", nil, false},
		{"wrong type", map[string]any{"to": 5, "amount": 1}, false},
		{"below minimum", map[string]any{"to": "bob", "amount": -1}, false},
		{"too long", map[string]any{"to": "bobby", "amount": 1}, false},
		{"not in enum", map[string]any{"to": "bob", "amount": 1, "kind": "warp"}, false},
		{"fractional integer", map[string]any{"to": "bob", "amount": 1, "count": 1.5}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateParams(tc.params, specs)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, schema.IsKind(err, schema.ErrKindValidationFailed), err.Error())
		})
	}
}

func TestValidateParams_NoSpecs(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateParams(map[string]any{"x": 1}, nil))
}

func TestParamSchema_Deterministic(t *testing.T) {
	specs := map[string]schema.ParamSpec{
		"b": {Type: schema.ParamString, Required: true},
		"a": {Type: schema.ParamNumber, Required: true},
	}
	s1, err := ParamSchema(specs)
	require.NoError(t, err)
	s2, err := ParamSchema(specs)
	require.NoError(t, err)
	assert.Equal(t, string(s1), string(s2))
	assert.Contains(t, string(s1), `"required":["a","b"]`)
}

func TestValidateParams_SchemaCached(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	specs := map[string]schema.ParamSpec{"x": {Type: schema.ParamNumber}}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateParams(map[string]any{"x": 1}, specs))
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
