package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/internal/validation"
	"github.com/rendis/applogic/pkg/schema"
)

// checker evaluates assertions. It is shared by every case of a run.
type checker struct {
	jq        *expressions.GoJQEngine
	cel       *expressions.CELEngine
	validator *validation.ActionValidator
}

// expectations compares res against the fixed expectation fields.
func expectations(exp Expectation, res *schema.ExecutionResult) []string {
	var failures []string
	if exp.Success != nil && res.Success != *exp.Success {
		failures = append(failures, fmt.Sprintf("success: expected %t, got %t%s", *exp.Success, res.Success, errorSuffix(res)))
	}
	if exp.TerminatedReason != "" && res.TerminatedReason != exp.TerminatedReason {
		failures = append(failures, fmt.Sprintf("terminated_reason: expected %s, got %s", exp.TerminatedReason, res.TerminatedReason))
	}
	if exp.ErrorKind != "" {
		switch {
		case res.Error == nil:
			failures = append(failures, fmt.Sprintf("error_kind: expected %s, call succeeded", exp.ErrorKind))
		case res.Error.Kind != exp.ErrorKind:
			failures = append(failures, fmt.Sprintf("error_kind: expected %s, got %s", exp.ErrorKind, res.Error.Kind))
		}
	}
	if exp.ErrorMessage != "" && (res.Error == nil || !strings.Contains(res.Error.Message, exp.ErrorMessage)) {
		failures = append(failures, fmt.Sprintf("error_message: expected to contain %q%s", exp.ErrorMessage, errorSuffix(res)))
	}
	if exp.Value != nil {
		failures = append(failures, subset("value", expressions.Normalize(exp.Value), res.Value)...)
	}
	if exp.DiffPaths != nil {
		got := engine.DiffPaths(res.StateDiff)
		if strings.Join(got, ",") != strings.Join(exp.DiffPaths, ",") {
			failures = append(failures, fmt.Sprintf("diff_paths: expected %v, got %v", exp.DiffPaths, got))
		}
	}
	if exp.Notifications != nil && len(res.Notifications) != *exp.Notifications {
		failures = append(failures, fmt.Sprintf("notifications: expected %d, got %d", *exp.Notifications, len(res.Notifications)))
	}
	if exp.Steps != nil && res.StepsExecuted != *exp.Steps {
		failures = append(failures, fmt.Sprintf("steps: expected %d, got %d", *exp.Steps, res.StepsExecuted))
	}
	return failures
}

// assert runs one assertion against data and returns a failure message, or
// "" when it holds.
func (c *checker) assert(ctx context.Context, i int, a Assertion, data map[string]any) string {
	label := a.Message
	if label == "" {
		label = fmt.Sprintf("assertion %d", i)
		if a.JQ != "" {
			label += " (jq " + a.JQ + ")"
		} else {
			label += " (cel " + a.CEL + ")"
		}
	}

	var got any
	var err error
	if a.JQ != "" {
		got, err = c.jq.Evaluate(ctx, a.JQ, data)
	} else {
		got, err = c.cel.Evaluate(ctx, a.CEL, data)
	}
	if err != nil {
		return fmt.Sprintf("%s: %s", label, err.Error())
	}
	got = expressions.Normalize(got)

	switch {
	case a.Equals != nil:
		want, err := decodeRaw(a.Equals)
		if err != nil {
			return fmt.Sprintf("%s: bad equals: %s", label, err.Error())
		}
		if !expressions.Equal(want, got) {
			return fmt.Sprintf("%s: expected %s, got %s", label, render(want), render(got))
		}
	case a.Contains != nil:
		want, err := decodeRaw(a.Contains)
		if err != nil {
			return fmt.Sprintf("%s: bad contains: %s", label, err.Error())
		}
		if !containsValue(got, want) {
			return fmt.Sprintf("%s: %s does not contain %s", label, render(got), render(want))
		}
	case a.Matches != "":
		re, err := regexp.Compile(a.Matches)
		if err != nil {
			return fmt.Sprintf("%s: bad pattern: %s", label, err.Error())
		}
		s, ok := got.(string)
		if !ok || !re.MatchString(s) {
			return fmt.Sprintf("%s: %s does not match %s", label, render(got), a.Matches)
		}
	case a.Schema != nil:
		doc := fmt.Sprintf(`{"type":"object","properties":{"value":%s}}`, a.Schema)
		if err := c.validator.ValidateInput(map[string]any{"value": got}, []byte(doc)); err != nil {
			return fmt.Sprintf("%s: %s", label, err.Error())
		}
	default:
		if b, ok := got.(bool); !ok || !b {
			return fmt.Sprintf("%s: expected true, got %s", label, render(got))
		}
	}
	return ""
}

// subset reports where want is not contained in got. Objects match when each
// key of want matches; everything else compares exactly.
func subset(path string, want, got any) []string {
	wm, ok := want.(map[string]any)
	if !ok {
		if !expressions.Equal(want, got) {
			return []string{fmt.Sprintf("%s: expected %s, got %s", path, render(want), render(got))}
		}
		return nil
	}
	gm, ok := got.(map[string]any)
	if !ok {
		return []string{fmt.Sprintf("%s: expected object, got %s", path, render(got))}
	}
	var failures []string
	for _, k := range sortedKeys(wm) {
		gv, ok := gm[k]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s.%s: missing", path, k))
			continue
		}
		failures = append(failures, subset(path+"."+k, wm[k], gv)...)
	}
	return failures
}

func containsValue(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, v := range c {
			if expressions.Equal(v, item) {
				return true
			}
		}
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false
		}
		_, found := c[s]
		return found
	}
	return false
}

func decodeRaw(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return expressions.Normalize(v), nil
}

func render(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func errorSuffix(res *schema.ExecutionResult) string {
	if res.Error == nil {
		return ""
	}
	return fmt.Sprintf(" (%s: %s)", res.Error.Kind, res.Error.Message)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
