package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/coverage"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/pkg/schema"
)

func loadApp(t *testing.T) *app.App {
	t.Helper()
	b, err := app.LoadBundle("../app/testdata/payments.yaml")
	require.NoError(t, err)
	exec, err := engine.NewExecutor(engine.ExecutorConfig{})
	require.NoError(t, err)
	a, err := app.New(b, exec)
	require.NoError(t, err)
	return a
}

func boolPtr(b bool) *bool { return &b }

func TestRunner_PaymentsSuite(t *testing.T) {
	a := loadApp(t)
	suite, err := LoadSuite("testdata/payments_suite.yaml")
	require.NoError(t, err)
	require.Len(t, suite.Cases, 5)

	cov := coverage.NewCollector()
	r, err := NewRunner(a, RunnerConfig{Concurrency: 4, Coverage: cov})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), suite)
	require.NoError(t, err)

	for _, c := range report.Cases {
		assert.True(t, c.Passed, "case %q: %v", c.Name, c.Failures)
	}
	assert.True(t, report.OK())
	assert.Equal(t, 5, report.Passed)
	assert.Equal(t, "transfer moves money and notifies", report.Cases[0].Name)

	require.NotNil(t, report.Coverage)
	assert.Equal(t, 1.0, report.Coverage.ActionCoverage)
	assert.Empty(t, report.Coverage.UncoveredActions)
}

func TestRunner_ReportsFailures(t *testing.T) {
	a := loadApp(t)
	r, err := NewRunner(a, RunnerConfig{})
	require.NoError(t, err)

	suite := &Suite{Cases: []Case{{
		Name:   "wrong expectations",
		Action: "transfer",
		Agent:  "alice",
		Params: map[string]any{"to": "bob", "amount": 10},
		Expect: Expectation{
			Success:   boolPtr(false),
			Value:     map[string]any{"new_balance": 1},
			DiffPaths: []string{"shared.fees"},
			Assertions: []Assertion{
				{JQ: ".result.value.new_balance", Equals: []byte(`991`)},
				{CEL: "result.success == false"},
			},
		},
	}}}

	report, err := r.Run(context.Background(), suite)
	require.NoError(t, err)
	require.Len(t, report.Cases, 1)
	c := report.Cases[0]
	assert.False(t, c.Passed)
	assert.Len(t, c.Failures, 5)
	assert.Contains(t, c.Failures[0], "success: expected false, got true")
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.OK())
}

func TestRunner_ResourceExhausted(t *testing.T) {
	a := loadApp(t)
	r, err := NewRunner(a, RunnerConfig{})
	require.NoError(t, err)

	amounts := make([]any, 150)
	for i := range amounts {
		amounts[i] = 1
	}
	report, err := r.Run(context.Background(), &Suite{Cases: []Case{{
		Name:   "too many fees",
		Action: "pay_fees",
		Agent:  "alice",
		Params: map[string]any{"amounts": amounts},
		Expect: Expectation{
			Success:          boolPtr(false),
			TerminatedReason: schema.TerminatedResourceExhausted,
			ErrorKind:        schema.ErrKindResourceExhausted,
			DiffPaths:        []string{},
			Assertions:       []Assertion{{JQ: ".state.shared.fees", Equals: []byte(`0`)}},
		},
	}}})
	require.NoError(t, err)
	assert.True(t, report.OK(), "%v", report.Cases[0].Failures)
}

func TestRunner_CaseErrors(t *testing.T) {
	a := loadApp(t)
	r, err := NewRunner(a, RunnerConfig{})
	require.NoError(t, err)

	report, err := r.Run(context.Background(), &Suite{Cases: []Case{
		{Name: "no agent", Action: "balance"},
		{Name: "unknown agent", Action: "balance", Agent: "carol"},
		{Name: "unknown action", Action: "refund", Agent: "alice"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Failed)
	for _, c := range report.Cases {
		assert.NotEmpty(t, c.Failures, c.Name)
		assert.Nil(t, c.Result, c.Name)
	}

	_, err = r.Run(context.Background(), &Suite{App: "shop"})
	assert.True(t, schema.IsKind(err, schema.ErrKindNotFound))
}

func TestRunner_Deterministic(t *testing.T) {
	a := loadApp(t)
	r, err := NewRunner(a, RunnerConfig{Concurrency: 8})
	require.NoError(t, err)

	var cases []Case
	for i := 0; i < 10; i++ {
		cases = append(cases, Case{
			Action: "transfer",
			Agent:  "alice",
			Params: map[string]any{"to": "bob", "amount": 1},
			Expect: Expectation{Value: map[string]any{"transaction_id": "id-1"}},
		})
	}
	report, err := r.Run(context.Background(), &Suite{Cases: cases})
	require.NoError(t, err)
	assert.Equal(t, 10, report.Passed)
}

func TestParseSuite(t *testing.T) {
	s, err := ParseSuite([]byte(`{"cases":[{"action":"balance","agent":"alice"}]}`), app.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "balance#0", s.Cases[0].Name)

	tests := []struct {
		name string
		doc  string
	}{
		{"missing action", `{"cases":[{"name":"x"}]}`},
		{"both engines", `{"cases":[{"action":"a","expect":{"assertions":[{"jq":".","cel":"true"}]}}]}`},
		{"no engine", `{"cases":[{"action":"a","expect":{"assertions":[{"equals":1}]}}]}`},
		{"bad json", `{"cases":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.doc), app.FormatJSON)
			assert.True(t, schema.IsKind(err, schema.ErrKindMalformedAst), "%v", err)
		})
	}
}

func TestAssert_Comparisons(t *testing.T) {
	a := loadApp(t)
	r, err := NewRunner(a, RunnerConfig{})
	require.NoError(t, err)
	data := map[string]any{"result": map[string]any{
		"value": map[string]any{"tags": []any{"a", "b"}, "name": "alice", "n": 2.0},
	}}

	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"equals", Assertion{JQ: ".result.value.n", Equals: []byte(`2`)}, true},
		{"equals null", Assertion{JQ: ".result.value.missing", Equals: []byte(`null`)}, true},
		{"equals kind mismatch", Assertion{JQ: ".result.value.n", Equals: []byte(`"2"`)}, false},
		{"contains array", Assertion{JQ: ".result.value.tags", Contains: []byte(`"b"`)}, true},
		{"contains string", Assertion{JQ: ".result.value.name", Contains: []byte(`"lic"`)}, true},
		{"contains missing", Assertion{JQ: ".result.value.tags", Contains: []byte(`"z"`)}, false},
		{"matches", Assertion{JQ: ".result.value.name", Matches: "^al"}, true},
		{"matches non-string", Assertion{JQ: ".result.value.n", Matches: "2"}, false},
		{"schema", Assertion{JQ: ".result.value.tags", Schema: []byte(`{"type":"array","minItems":2}`)}, true},
		{"schema violated", Assertion{JQ: ".result.value.n", Schema: []byte(`{"type":"string"}`)}, false},
		{"truthy cel", Assertion{CEL: "size(result.value.tags) == 2"}, true},
		{"non-bool", Assertion{JQ: ".result.value.name"}, false},
		{"eval error", Assertion{CEL: "result.value.nope.deeper == 1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := r.check.assert(context.Background(), 0, tt.a, data)
			if tt.ok {
				assert.Empty(t, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}
}
