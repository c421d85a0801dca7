// Package sandbox runs declarative test suites against an app: each case
// executes one action with deterministic services and checks the result.
package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/pkg/schema"
)

// Suite is a list of cases for one app.
type Suite struct {
	App   string `json:"app,omitempty"`
	Cases []Case `json:"cases"`
}

// Case is one action call and its expectations. When Context is nil the call
// runs against a fresh world seeded from the bundle state as Agent.
type Case struct {
	Name    string                   `json:"name"`
	Action  string                   `json:"action"`
	Agent   string                   `json:"agent,omitempty"`
	Params  map[string]any           `json:"params,omitempty"`
	Context *schema.ExecutionContext `json:"context,omitempty"`
	Seed    int64                    `json:"seed,omitempty"`
	Now     *time.Time               `json:"now,omitempty"`
	Expect  Expectation              `json:"expect"`
}

// Expectation lists what a case checks. Unset fields are not checked.
type Expectation struct {
	Success          *bool                   `json:"success,omitempty"`
	TerminatedReason schema.TerminatedReason `json:"terminated_reason,omitempty"`
	ErrorKind        string                  `json:"error_kind,omitempty"`
	ErrorMessage     string                  `json:"error_message,omitempty"`
	Value            map[string]any          `json:"value,omitempty"`
	DiffPaths        []string                `json:"diff_paths,omitempty"`
	Notifications    *int                    `json:"notifications,omitempty"`
	Steps            *int                    `json:"steps,omitempty"`
	Assertions       []Assertion             `json:"assertions,omitempty"`
}

// Assertion evaluates one jq or CEL expression over the case data
// {result, context, state} and checks the outcome. With no comparison set
// the expression must yield true.
type Assertion struct {
	JQ       string          `json:"jq,omitempty"`
	CEL      string          `json:"cel,omitempty"`
	Equals   json.RawMessage `json:"equals,omitempty"`
	Contains json.RawMessage `json:"contains,omitempty"`
	Matches  string          `json:"matches,omitempty"`
	Schema   json.RawMessage `json:"schema,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// LoadSuite reads a JSON or YAML suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite %s: %w", path, err)
	}
	s, err := ParseSuite(data, app.FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return s, nil
}

// ParseSuite decodes a suite and checks every case names an action.
func ParseSuite(data []byte, format app.Format) (*Suite, error) {
	raw, err := app.ToJSON(data, format)
	if err != nil {
		return nil, err
	}
	var s Suite
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "decode suite: %s", err.Error()).WithCause(err)
	}
	for i, c := range s.Cases {
		if c.Action == "" {
			return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "case %d (%s) has no action", i, c.Name)
		}
		if c.Name == "" {
			s.Cases[i].Name = fmt.Sprintf("%s#%d", c.Action, i)
		}
		for j, a := range c.Assertions() {
			if (a.JQ == "") == (a.CEL == "") {
				return nil, schema.NewErrorf(schema.ErrKindMalformedAst,
					"case %s assertion %d: set exactly one of jq or cel", s.Cases[i].Name, j)
			}
		}
	}
	return &s, nil
}

// Assertions returns the case's assertions.
func (c Case) Assertions() []Assertion {
	return c.Expect.Assertions
}
