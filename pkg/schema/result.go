package schema

// TerminatedReason records how a call ended.
type TerminatedReason string

const (
	TerminatedReturned          TerminatedReason = "returned"
	TerminatedErrored           TerminatedReason = "errored"
	TerminatedResourceExhausted TerminatedReason = "resource_exhausted"
)

// MutationRecord is one buffered state change, in directive order.
type MutationRecord struct {
	Path     string `json:"path"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
	Block    string `json:"block,omitempty"`
}

// DiffEntry is one leaf-path change of a committed call.
type DiffEntry struct {
	Path   string `json:"path"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// Notification is a queued, undelivered message produced by a Notify directive.
type Notification struct {
	To      string         `json:"to"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ErrorInfo is the user-visible error of a failed call.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Block   string `json:"block,omitempty"`
}

// BranchOutcome records which arm a branch block took during a call.
type BranchOutcome struct {
	Block   string `json:"block"`
	Outcome string `json:"outcome"`
}

// Trace is the recorded control flow of one call, keyed by flow-graph node ids.
// Loop bodies are recorded for their first iteration only.
type Trace struct {
	Path     []string        `json:"path"`
	Branches []BranchOutcome `json:"branches,omitempty"`
}

// ExecutionResult is the synchronous outcome of one action call.
type ExecutionResult struct {
	Success          bool             `json:"success"`
	Value            map[string]any   `json:"value"`
	Error            *ErrorInfo       `json:"error"`
	StateDiff        []DiffEntry      `json:"state_diff"`
	Notifications    []Notification   `json:"notifications"`
	StepsExecuted    int              `json:"steps_executed"`
	TerminatedReason TerminatedReason `json:"terminated_reason"`
	Trace            *Trace           `json:"trace,omitempty"`
}

// CoverageReport summarizes how much of an app's control flow recorded traces exercised.
type CoverageReport struct {
	ActionCoverage    float64           `json:"action_coverage"`
	BranchCoverage    float64           `json:"branch_coverage"`
	PathCoverage      float64           `json:"path_coverage"`
	UncoveredActions  []string          `json:"uncovered_actions"`
	UncoveredBranches []UncoveredBranch `json:"uncovered_branches"`
	Actions           []ActionCoverage  `json:"actions,omitempty"`
}

// UncoveredBranch names one branch arm no trace took.
type UncoveredBranch struct {
	Action     string `json:"action"`
	BlockIndex string `json:"block_index"`
	BranchType string `json:"branch_type"`
	Condition  string `json:"condition"`
}

// ActionCoverage is the per-action breakdown of a CoverageReport.
type ActionCoverage struct {
	Action        string `json:"action"`
	Executions    int    `json:"executions"`
	PathsTotal    int    `json:"paths_total"`
	PathsCovered  int    `json:"paths_covered"`
	BranchesTotal int    `json:"branches_total"`
	BranchesTaken int    `json:"branches_taken"`
}
