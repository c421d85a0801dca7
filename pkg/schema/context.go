package schema

// ExecutionContext is the read-only state view one action call executes against.
// The engine never mutates it; all writes go through the mutation buffer.
type ExecutionContext struct {
	AgentID string                    `json:"agent_id"`
	Params  map[string]any            `json:"params,omitempty"`
	Agent   map[string]any            `json:"agent,omitempty"`
	Agents  map[string]map[string]any `json:"agents,omitempty"`
	Shared  map[string]any            `json:"shared,omitempty"`
	Config  map[string]any            `json:"config,omitempty"`
}

// Limits bounds the resources one call may consume. Configured per app, not per call.
type Limits struct {
	MaxIterations  int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

const (
	DefaultMaxIterations  = 1000
	DefaultTimeoutSeconds = 30
)

// WithDefaults fills unset limits with the package defaults.
func (l Limits) WithDefaults() Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = DefaultMaxIterations
	}
	if l.TimeoutSeconds <= 0 {
		l.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return l
}
