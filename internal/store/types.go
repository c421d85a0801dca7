package store

import (
	"time"

	"github.com/rendis/applogic/pkg/schema"
)

// Execution is one recorded action call.
type Execution struct {
	ID       string                 `json:"id"`
	App      string                 `json:"app"`
	Action   string                 `json:"action"`
	AgentID  string                 `json:"agent_id,omitempty"`
	Params   map[string]any         `json:"params,omitempty"`
	Result   schema.ExecutionResult `json:"result"`
	Duration time.Duration          `json:"duration"`
	// CreatedAt defaults to the current time when zero on save.
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionFilter narrows ListExecutions. Zero fields do not filter.
type ExecutionFilter struct {
	App     string
	Action  string
	AgentID string
	Success *bool
	Since   *time.Time
	Limit   int
	Offset  int
}
